package cache

import (
	"context"
	"testing"

	"github.com/securepaste/securepaste/internal/engine"
)

func TestKey(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		if Key("hello", "fp1") != Key("hello", "fp1") {
			t.Error("Same inputs produced different keys")
		}
	})

	t.Run("TextChangesKey", func(t *testing.T) {
		if Key("hello", "fp1") == Key("world", "fp1") {
			t.Error("Different texts collided")
		}
	})

	t.Run("FingerprintChangesKey", func(t *testing.T) {
		if Key("hello", "fp1") == Key("hello", "fp2") {
			t.Error("Different rule fingerprints collided")
		}
	})

	t.Run("SeparatorPreventsBoundaryCollisions", func(t *testing.T) {
		if Key("ab", "c") == Key("a", "bc") {
			t.Error("Text/fingerprint boundary ambiguous")
		}
	})

	t.Run("NoRawTextInKey", func(t *testing.T) {
		key := Key("john@example.com", "fp")
		if len(key) != 64 {
			t.Errorf("Key is not a hex digest: %q", key)
		}
	})
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	ctx := context.Background()

	c.Set(ctx, "k", &engine.Result{AnonymizedText: "x"})
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Nop cache returned a hit")
	}
}
