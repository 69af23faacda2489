package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/securepaste/securepaste/internal/config"
	"github.com/securepaste/securepaste/internal/logger"
	"github.com/securepaste/securepaste/internal/rules"
	"go.uber.org/zap"
)

// transport is one exchange channel to the worker.
type transport interface {
	name() string
	anonymize(ctx context.Context, req Request) ([]byte, error)
	check(ctx context.Context) ([]byte, error)
	version(ctx context.Context) (string, error)
	close() error
}

// Client drives the external analysis worker. The transport is chosen once by
// capability probing at construction and cached; a dead pipe worker is
// restarted once per incident before the client degrades to the file channel
// for the remainder of the process.
type Client struct {
	cfg config.EngineConfig
	log *logger.Logger

	mu        sync.Mutex
	transport transport
	degraded  bool
}

// New creates an engine client and selects the transport. With transport
// "auto", the pipe channel is probed first and the file channel is the
// fallback; an explicit "pipe" or "file" skips probing of the other channel.
func New(cfg config.EngineConfig, log *logger.Logger) (*Client, error) {
	c := &Client{cfg: cfg, log: log}

	switch cfg.Transport {
	case "pipe":
		pipe, err := c.startProbedPipe()
		if err != nil {
			return nil, err
		}
		c.transport = pipe

	case "file":
		c.transport = newFileTransport(cfg.Command, cfg.Script, cfg.TempDir, log)
		c.degraded = true

	default: // auto
		pipe, err := c.startProbedPipe()
		if err != nil {
			log.Warn("Pipe channel unavailable, falling back to file exchange", zap.Error(err))
			c.transport = newFileTransport(cfg.Command, cfg.Script, cfg.TempDir, log)
			c.degraded = true
		} else {
			c.transport = pipe
		}
	}

	log.Info("Analysis engine client ready",
		zap.String("transport", c.transport.name()),
		zap.Duration("timeout", cfg.Timeout),
	)
	return c, nil
}

// startProbedPipe starts the pipe worker and verifies it with a check round
// trip bounded by the probe timeout.
func (c *Client) startProbedPipe() (*pipeTransport, error) {
	pipe, err := startPipeTransport(c.cfg.Command, c.cfg.Script, c.log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ProbeTimeout)
	defer cancel()

	raw, err := pipe.check(ctx)
	if err != nil {
		_ = pipe.close()
		return nil, fmt.Errorf("pipe probe failed: %w", err)
	}
	if err := validateCheck(raw); err != nil {
		_ = pipe.close()
		return nil, fmt.Errorf("pipe probe failed: %w", err)
	}
	return pipe, nil
}

// Anonymize sends text and the derived rule payload to the worker and returns
// the validated result. Empty or whitespace-only input is a no-op success that
// never reaches the engine. The caller bounds the call with ctx; on deadline
// the subprocess is force-killed and ErrTimeout is returned.
func (c *Client) Anonymize(ctx context.Context, text string, rs rules.RuleSet) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return &Result{AnonymizedText: text, EntitiesFound: map[string]int{}}, nil
	}

	req := Request{
		Text:   text,
		Config: BuildConfigPayload(rs, c.log),
	}

	raw, err := c.currentTransport().anonymize(ctx, req)
	if errors.Is(err, ErrUnavailable) {
		raw, err = c.retryAfterRecovery(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	return parseResult(raw)
}

// retryAfterRecovery handles a dead pipe worker: restart it once, and if that
// fails switch to the file channel permanently.
func (c *Client) retryAfterRecovery(ctx context.Context, req Request) ([]byte, error) {
	c.mu.Lock()
	if c.degraded {
		// Already on the file channel; nothing to recover.
		current := c.transport
		c.mu.Unlock()
		return current.anonymize(ctx, req)
	}

	_ = c.transport.close()

	pipe, err := c.startProbedPipe()
	if err != nil {
		c.log.Warn("Pipe worker restart failed, degrading to file exchange", zap.Error(err))
		c.transport = newFileTransport(c.cfg.Command, c.cfg.Script, c.cfg.TempDir, c.log)
		c.degraded = true
	} else {
		c.log.Info("Pipe worker restarted")
		c.transport = pipe
	}

	current := c.transport
	c.mu.Unlock()

	return current.anonymize(ctx, req)
}

// CheckInstallation performs a lightweight round trip to verify the worker
// and its analysis runtime are reachable. It mutates no anonymization state.
func (c *Client) CheckInstallation(ctx context.Context) error {
	raw, err := c.currentTransport().check(ctx)
	if err != nil {
		return err
	}
	return validateCheck(raw)
}

// Version returns the worker's runtime version string, for diagnostics only.
func (c *Client) Version(ctx context.Context) (string, error) {
	return c.currentTransport().version(ctx)
}

// Transport names the active exchange channel.
func (c *Client) Transport() string {
	return c.currentTransport().name()
}

// Close terminates the worker subprocess if one is running.
func (c *Client) Close() error {
	return c.currentTransport().close()
}

func (c *Client) currentTransport() transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// validateCheck parses a check response of the form {"success": bool,
// "error": string}.
func validateCheck(raw []byte) error {
	var resp struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Success == nil {
		return fmt.Errorf("%w: bad check payload", ErrMalformedResponse)
	}
	if !*resp.Success {
		message := resp.Error
		if message == "" {
			message = "installation check failed"
		}
		return &FailureError{Message: message}
	}
	return nil
}
