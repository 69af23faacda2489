// Package cache is an optional engine-result cache: identical clipboard text
// under an identical rule set skips the engine round trip entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/securepaste/securepaste/internal/engine"
)

// Cache stores validated engine results keyed by text and rule fingerprint.
// Implementations must treat every internal error as a miss; the cache can
// never fail an anonymization run.
type Cache interface {
	Get(ctx context.Context, key string) (*engine.Result, bool)
	Set(ctx context.Context, key string, result *engine.Result)
}

// Key derives the cache key for a clipboard text under a rule-set
// fingerprint. The raw text never appears in the key.
func Key(text, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

// Nop is the disabled cache: every lookup misses.
type Nop struct{}

func (Nop) Get(context.Context, string) (*engine.Result, bool) { return nil, false }

func (Nop) Set(context.Context, string, *engine.Result) {}
