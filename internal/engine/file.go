package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/securepaste/securepaste/internal/logger"
	"go.uber.org/zap"
)

// fileTransport runs one worker subprocess per call and exchanges data through
// three temp files: input text, JSON rule config, output JSON. It is the
// fallback channel for hosts where the pipe worker cannot be kept alive.
type fileTransport struct {
	command string
	script  string
	tempDir string
	log     *logger.Logger
}

func newFileTransport(command, script, tempDir string, log *logger.Logger) *fileTransport {
	return &fileTransport{command: command, script: script, tempDir: tempDir, log: log}
}

func (t *fileTransport) name() string { return "file" }

func (t *fileTransport) anonymize(ctx context.Context, req Request) ([]byte, error) {
	dir := t.tempDir
	if dir == "" {
		dir = os.TempDir()
	}

	// Random suffixes keep concurrent processes from clobbering each other's
	// exchange files.
	suffix := uuid.NewString()
	inputPath := filepath.Join(dir, "securepaste-in-"+suffix+".txt")
	configPath := filepath.Join(dir, "securepaste-cfg-"+suffix+".json")
	outputPath := filepath.Join(dir, "securepaste-out-"+suffix+".json")

	// Exchange files are removed on every exit path, timeouts included.
	defer func() {
		for _, path := range []string{inputPath, configPath, outputPath} {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				t.log.Warn("Failed to remove engine exchange file",
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}
	}()

	if err := os.WriteFile(inputPath, []byte(req.Text), 0o600); err != nil {
		return nil, fmt.Errorf("engine: failed to write input file: %w", err)
	}

	configJSON, err := json.Marshal(req.Config)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, configJSON, 0o600); err != nil {
		return nil, fmt.Errorf("engine: failed to write config file: %w", err)
	}

	// The deadline kill must take down the worker's whole process tree, not
	// just the interpreter; a worker that ignores the kill is not waited on
	// past WaitDelay.
	cmd := exec.CommandContext(ctx, t.command, t.script, "--file", inputPath, configPath, outputPath)
	setProcGroup(cmd)
	cmd.Cancel = func() error { return killProcGroup(cmd) }
	cmd.WaitDelay = killWaitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctxErr
	}
	if runErr != nil {
		t.log.Warn("Engine subprocess failed",
			zap.Error(runErr),
			zap.String("stderr", truncate(stderr.String(), 512)),
		)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, runErr)
	}

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: no output file: %v", ErrMalformedResponse, err)
	}
	return raw, nil
}

func (t *fileTransport) check(ctx context.Context) ([]byte, error) {
	return t.runSimple(ctx, "--check")
}

func (t *fileTransport) version(ctx context.Context) (string, error) {
	out, err := t.runSimple(ctx, "--version")
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(out)), nil
}

func (t *fileTransport) close() error { return nil }

func (t *fileTransport) runSimple(ctx context.Context, arg string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.command, t.script, arg)
	setProcGroup(cmd)
	cmd.Cancel = func() error { return killProcGroup(cmd) }
	cmd.WaitDelay = killWaitDelay

	out, err := cmd.Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
