package clipboard

import (
	"context"
	"errors"
	"sync"

	"github.com/securepaste/securepaste/internal/logger"
	"go.uber.org/zap"
	xclipboard "golang.design/x/clipboard"
)

var (
	initOnce sync.Once
	initErr  error
)

// SystemPort adapts golang.design/x/clipboard to the Port interface. Only one
// goroutine may hold the OS clipboard open at a time, so writes are serialized
// by a mutex.
type SystemPort struct {
	log *logger.Logger

	writeMu sync.Mutex

	subMu      sync.Mutex
	subscribed bool
}

// NewSystemPort initializes the OS clipboard backend and returns the adapter.
func NewSystemPort(log *logger.Logger) (*SystemPort, error) {
	initOnce.Do(func() {
		initErr = xclipboard.Init()
	})
	if initErr != nil {
		return nil, initErr
	}
	return &SystemPort{log: log}, nil
}

// GetText reads the current clipboard text content.
func (p *SystemPort) GetText() (string, bool) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	data := xclipboard.Read(xclipboard.FmtText)
	if data == nil {
		return "", false
	}
	return string(data), true
}

// SetText replaces the clipboard content with text.
func (p *SystemPort) SetText(text string) bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	// Write returns nil only when the backend failed to take ownership.
	changed := xclipboard.Write(xclipboard.FmtText, []byte(text))
	if changed == nil {
		p.log.Warn("Clipboard write failed")
		return false
	}
	return true
}

// Subscribe starts delivering clipboard changes to onChange. The watcher runs
// until the returned subscription is closed.
func (p *SystemPort) Subscribe(onChange func(string)) (Subscription, error) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if p.subscribed {
		return nil, errors.New("clipboard: subscription already active")
	}

	ctx, cancel := context.WithCancel(context.Background())
	watch := xclipboard.Watch(ctx, xclipboard.FmtText)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for data := range watch {
			onChange(string(data))
		}
	}()

	p.subscribed = true
	p.log.Debug("Clipboard watch started")

	return &systemSubscription{port: p, cancel: cancel, done: done}, nil
}

type systemSubscription struct {
	port   *SystemPort
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *systemSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done

		s.port.subMu.Lock()
		s.port.subscribed = false
		s.port.subMu.Unlock()

		s.port.log.Debug("Clipboard watch stopped", zap.String("reason", "unsubscribed"))
	})
}
