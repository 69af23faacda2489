package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/securepaste/securepaste/internal/config"
	"github.com/securepaste/securepaste/internal/logger"
	"github.com/securepaste/securepaste/internal/rules"
)

func TestParseResult(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		raw := []byte(`{"success": true, "anonymized_text": "Contact <PERSON>", "entities_found": {"PERSON": 1}, "total_entities": 1}`)
		result, err := parseResult(raw)
		if err != nil {
			t.Fatalf("Valid response rejected: %v", err)
		}
		if result.AnonymizedText != "Contact <PERSON>" {
			t.Errorf("Wrong anonymized text: %q", result.AnonymizedText)
		}
		if result.EntitiesFound["PERSON"] != 1 {
			t.Errorf("Wrong entity counts: %v", result.EntitiesFound)
		}
	})

	t.Run("EngineReportedFailure", func(t *testing.T) {
		raw := []byte(`{"success": false, "error": "Presidio not available", "anonymized_text": "original"}`)
		_, err := parseResult(raw)
		var failure *FailureError
		if !errors.As(err, &failure) {
			t.Fatalf("Expected FailureError, got %v", err)
		}
		if failure.Message != "Presidio not available" {
			t.Errorf("Wrong failure message: %q", failure.Message)
		}
	})

	t.Run("MissingSuccess", func(t *testing.T) {
		_, err := parseResult([]byte(`{"anonymized_text": "x"}`))
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("Missing success field not flagged as malformed: %v", err)
		}
	})

	t.Run("MissingAnonymizedText", func(t *testing.T) {
		_, err := parseResult([]byte(`{"success": true}`))
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("Missing anonymized_text not flagged as malformed: %v", err)
		}
	})

	t.Run("NotJSON", func(t *testing.T) {
		_, err := parseResult([]byte(`Traceback (most recent call last):`))
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("Non-JSON output not flagged as malformed: %v", err)
		}
	})

	t.Run("IgnoresUnknownFields", func(t *testing.T) {
		// Workers may echo correlation fields this client does not use.
		raw := []byte(`{"success": true, "anonymized_text": "x", "id": "abc", "latency_ms": 12}`)
		if _, err := parseResult(raw); err != nil {
			t.Errorf("Extra fields rejected: %v", err)
		}
	})

	t.Run("NilEntitiesBecomesEmptyMap", func(t *testing.T) {
		result, err := parseResult([]byte(`{"success": true, "anonymized_text": "x"}`))
		if err != nil {
			t.Fatal(err)
		}
		if result.EntitiesFound == nil {
			t.Error("Entities map is nil")
		}
	})
}

func TestBuildConfigPayload(t *testing.T) {
	rs := rules.RuleSet{
		Enabled: true,
		Entities: []rules.EntityRule{
			{Type: "PERSON", Enabled: true, Method: rules.MethodReplace, CustomReplacement: "<PERSON>"},
			{Type: "CREDIT_CARD", Enabled: false, Method: rules.MethodRedact},
		},
		CustomPatterns: []rules.PatternRule{
			{Name: "ok", Pattern: `A[0-9]+`, EntityType: "X", Enabled: true, ConfidenceScore: 0.8, Method: rules.MethodMask},
			{Name: "off", Pattern: `B[0-9]+`, EntityType: "Y", Enabled: false, Method: rules.MethodMask},
		},
		ConfidenceThreshold: 0.65,
		Language:            "de",
	}

	payload := BuildConfigPayload(rs, logger.Nop())

	if len(payload.Entities) != 1 || payload.Entities[0].Type != "PERSON" {
		t.Errorf("Disabled entities leaked into payload: %+v", payload.Entities)
	}
	if payload.Entities[0].Method != "replace" || payload.Entities[0].CustomReplacement != "<PERSON>" {
		t.Errorf("Entity payload mangled: %+v", payload.Entities[0])
	}
	if len(payload.CustomPatterns) != 1 || payload.CustomPatterns[0].Name != "ok" {
		t.Errorf("Disabled patterns leaked into payload: %+v", payload.CustomPatterns)
	}
	if payload.ConfidenceThreshold != 0.65 || payload.Language != "de" {
		t.Errorf("Threshold/language not carried: %+v", payload)
	}
}

// writeFakeWorker writes a shell script standing in for the Python worker.
func writeFakeWorker(t *testing.T, body string) (command, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker scripts require a POSIX shell")
	}

	script = filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return "/bin/sh", script
}

const fileWorker = `#!/bin/sh
case "$1" in
  --check) echo '{"success": true}' ;;
  --version) echo 'Python 3.12.1 (fake)' ;;
  --file)
    printf '{"success": true, "anonymized_text": "Contact <PERSON>", "entities_found": {"PERSON": 1}, "total_entities": 1}' > "$4"
    ;;
esac
`

func TestFileTransport(t *testing.T) {
	command, script := writeFakeWorker(t, fileWorker)
	exchangeDir := t.TempDir()
	transport := newFileTransport(command, script, exchangeDir, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("Anonymize", func(t *testing.T) {
		raw, err := transport.anonymize(ctx, Request{Text: "Contact John Smith"})
		if err != nil {
			t.Fatalf("File exchange failed: %v", err)
		}
		result, err := parseResult(raw)
		if err != nil {
			t.Fatal(err)
		}
		if result.AnonymizedText != "Contact <PERSON>" {
			t.Errorf("Wrong result: %q", result.AnonymizedText)
		}
	})

	t.Run("ExchangeFilesRemoved", func(t *testing.T) {
		entries, err := os.ReadDir(exchangeDir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("Exchange files left behind: %v", entries)
		}
	})

	t.Run("Check", func(t *testing.T) {
		raw, err := transport.check(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := validateCheck(raw); err != nil {
			t.Errorf("Check response rejected: %v", err)
		}
	})

	t.Run("Version", func(t *testing.T) {
		version, err := transport.version(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if version != "Python 3.12.1 (fake)" {
			t.Errorf("Wrong version: %q", version)
		}
	})
}

func TestFileTransportTimeout(t *testing.T) {
	command, script := writeFakeWorker(t, "#!/bin/sh\nexec sleep 30\n")
	exchangeDir := t.TempDir()
	transport := newFileTransport(command, script, exchangeDir, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := transport.anonymize(ctx, Request{Text: "slow"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Timeout took too long to fire: %s", elapsed)
	}

	entries, err := os.ReadDir(exchangeDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Exchange files left behind after timeout: %v", entries)
	}
}

func TestFileTransportTimeoutKillsProcessTree(t *testing.T) {
	// The worker backgrounds a helper before wedging; the deadline kill must
	// take down the helper too, not just the worker itself.
	marker := filepath.Join(t.TempDir(), "marker")
	command, script := writeFakeWorker(t, fmt.Sprintf(
		"#!/bin/sh\n( sleep 1; echo alive > \"%s\" ) &\nsleep 60\n", marker))
	transport := newFileTransport(command, script, t.TempDir(), logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := transport.anonymize(ctx, Request{Text: "slow"}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	time.Sleep(1500 * time.Millisecond)
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Error("Worker's spawned helper survived the deadline kill")
	}
}

func TestPipeTransportKillTakesDownProcessTree(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	command, script := writeFakeWorker(t, fmt.Sprintf(
		"#!/bin/sh\n( sleep 1; echo alive > \"%s\" ) &\nwhile read line; do :; done\n", marker))

	transport, err := startPipeTransport(command, script, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer transport.close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := transport.anonymize(ctx, Request{Text: "x"}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	time.Sleep(1500 * time.Millisecond)
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Error("Worker's spawned helper survived the kill")
	}
}

const pipeWorker = `#!/bin/sh
while read line; do
  case "$line" in
    *'"command":"check"'*) echo '{"success": true}' ;;
    *'"command":"version"'*) echo '{"version": "Python 3.12.1 (fake)"}' ;;
    *) echo '{"success": true, "anonymized_text": "masked", "entities_found": {"EMAIL_ADDRESS": 2}, "total_entities": 2}' ;;
  esac
done
`

func TestPipeTransport(t *testing.T) {
	command, script := writeFakeWorker(t, pipeWorker)

	transport, err := startPipeTransport(command, script, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to start pipe worker: %v", err)
	}
	defer transport.close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("Check", func(t *testing.T) {
		raw, err := transport.check(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := validateCheck(raw); err != nil {
			t.Errorf("Check response rejected: %v", err)
		}
	})

	t.Run("Anonymize", func(t *testing.T) {
		raw, err := transport.anonymize(ctx, Request{Text: "mail me"})
		if err != nil {
			t.Fatal(err)
		}
		result, err := parseResult(raw)
		if err != nil {
			t.Fatal(err)
		}
		if result.EntitiesFound["EMAIL_ADDRESS"] != 2 {
			t.Errorf("Wrong entities: %v", result.EntitiesFound)
		}
	})

	t.Run("Version", func(t *testing.T) {
		version, err := transport.version(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if version != "Python 3.12.1 (fake)" {
			t.Errorf("Wrong version: %q", version)
		}
	})

	t.Run("UnavailableAfterClose", func(t *testing.T) {
		transport.close()
		if _, err := transport.anonymize(ctx, Request{Text: "x"}); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Expected ErrUnavailable after close, got %v", err)
		}
	})
}

func TestPipeTransportTimeoutKillsWorker(t *testing.T) {
	// A worker that swallows requests without answering.
	command, script := writeFakeWorker(t, "#!/bin/sh\nwhile read line; do :; done\n")

	transport, err := startPipeTransport(command, script, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer transport.close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := transport.anonymize(ctx, Request{Text: "x"}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	// The wedged worker was killed; later calls see it gone.
	if _, err := transport.anonymize(context.Background(), Request{Text: "y"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable after kill, got %v", err)
	}
}

func TestClientEmptyInputShortCircuits(t *testing.T) {
	// The script path does not exist; any engine invocation would fail.
	client, err := New(config.EngineConfig{
		Command:      "/bin/sh",
		Script:       "/nonexistent/worker.sh",
		Transport:    "file",
		Timeout:      time.Second,
		ProbeTimeout: time.Second,
	}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Anonymize(context.Background(), "   \n\t", rules.Defaults())
	if err != nil {
		t.Fatalf("Whitespace input should be a no-op success, got %v", err)
	}
	if result.AnonymizedText != "   \n\t" {
		t.Errorf("No-op result altered the text: %q", result.AnonymizedText)
	}
	if len(result.EntitiesFound) != 0 {
		t.Errorf("No-op result reports entities: %v", result.EntitiesFound)
	}
}

func TestClientAutoFallsBackToFile(t *testing.T) {
	// Worker answers file-mode calls but dies immediately in serve mode, so
	// auto probing must settle on the file transport.
	command, script := writeFakeWorker(t, `#!/bin/sh
case "$1" in
  --serve) exit 1 ;;
  --check) echo '{"success": true}' ;;
  --file) printf '{"success": true, "anonymized_text": "ok", "entities_found": {}, "total_entities": 0}' > "$4" ;;
esac
`)

	client, err := New(config.EngineConfig{
		Command:      command,
		Script:       script,
		Transport:    "auto",
		Timeout:      5 * time.Second,
		ProbeTimeout: 2 * time.Second,
	}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if client.Transport() != "file" {
		t.Fatalf("Expected file transport after failed pipe probe, got %s", client.Transport())
	}

	result, err := client.Anonymize(context.Background(), "hello", rules.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if result.AnonymizedText != "ok" {
		t.Errorf("Wrong result: %q", result.AnonymizedText)
	}
}
