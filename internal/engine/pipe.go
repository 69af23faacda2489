package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/securepaste/securepaste/internal/logger"
	"go.uber.org/zap"
)

const (
	// killWaitDelay bounds how long a killed subprocess is waited on before
	// it is abandoned as an orphan.
	killWaitDelay = 5 * time.Second

	// maxResponseLine caps a single worker response. Clipboard payloads are
	// bounded by the OS; 16 MiB leaves generous headroom.
	maxResponseLine = 16 << 20
)

// pipeTransport keeps one long-lived worker subprocess alive and exchanges
// newline-delimited JSON over its stdin/stdout. Calls are serialized by a
// mutex; the worker protocol is strictly one response line per request line.
type pipeTransport struct {
	log *logger.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan []byte
	alive bool
}

func startPipeTransport(command, script string, log *logger.Logger) (*pipeTransport, error) {
	cmd := exec.Command(command, script, "--serve")
	setProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: failed to open worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	t := &pipeTransport{
		log:   log,
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan []byte, 1),
		alive: true,
	}

	go t.readLoop(stdout)

	log.Info("Engine pipe worker started", zap.Int("pid", cmd.Process.Pid))
	return t, nil
}

// readLoop pumps worker stdout lines into the response channel. It exits, and
// closes the channel, when the worker dies or closes stdout.
func (t *pipeTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), maxResponseLine)

	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		t.lines <- line
	}
	close(t.lines)
}

func (t *pipeTransport) name() string { return "pipe" }

func (t *pipeTransport) anonymize(ctx context.Context, req Request) ([]byte, error) {
	req.Command = "anonymize"
	return t.roundTrip(ctx, req)
}

func (t *pipeTransport) check(ctx context.Context) ([]byte, error) {
	return t.roundTrip(ctx, Request{Command: "check"})
}

func (t *pipeTransport) version(ctx context.Context) (string, error) {
	raw, err := t.roundTrip(ctx, Request{Command: "version"})
	if err != nil {
		return "", err
	}

	var resp struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Version == "" {
		return "", fmt.Errorf("%w: bad version payload", ErrMalformedResponse)
	}
	return resp.Version, nil
}

func (t *pipeTransport) roundTrip(ctx context.Context, req Request) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.alive {
		return nil, ErrUnavailable
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to encode request: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := t.stdin.Write(payload); err != nil {
		t.killLocked()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	select {
	case line, ok := <-t.lines:
		if !ok {
			t.killLocked()
			return nil, ErrUnavailable
		}
		return line, nil
	case <-ctx.Done():
		// The worker is wedged on this request; kill it rather than leave it
		// to answer a call nobody is waiting for.
		t.killLocked()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (t *pipeTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killLocked()
	return nil
}

// killLocked force-terminates the worker. Callers hold t.mu.
func (t *pipeTransport) killLocked() {
	if !t.alive {
		return
	}
	t.alive = false

	_ = t.stdin.Close()
	// Kill the whole process group so helpers the worker spawned do not
	// survive as orphans.
	_ = killProcGroup(t.cmd)

	// Reap in the background so the OS process entry is released without
	// blocking the caller.
	go func() {
		waited := make(chan struct{})
		go func() {
			_ = t.cmd.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(killWaitDelay):
			t.log.Warn("Engine pipe worker did not exit after kill")
		}
	}()

	t.log.Info("Engine pipe worker stopped")
}
