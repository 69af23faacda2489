package clipboard

import "sync"

// MemoryPort is an in-process Port used by tests and dry runs. It mimics the
// OS behavior that matters to the pipeline: a successful SetText fires the
// change notification, including for the port's own writes.
type MemoryPort struct {
	mu       sync.Mutex
	text     string
	hasText  bool
	onChange func(string)

	// FailReads forces GetText to report not-ok.
	FailReads bool
	// FailWrites forces SetText to fail without mutating content.
	FailWrites bool
	// NotifyOwnWrites controls whether SetText triggers the subscriber, the
	// way a real OS clipboard does. Defaults to true via NewMemoryPort.
	NotifyOwnWrites bool
}

// NewMemoryPort returns an empty in-memory clipboard.
func NewMemoryPort() *MemoryPort {
	return &MemoryPort{NotifyOwnWrites: true}
}

func (p *MemoryPort) GetText() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailReads || !p.hasText {
		return "", false
	}
	return p.text, true
}

func (p *MemoryPort) SetText(text string) bool {
	p.mu.Lock()
	if p.FailWrites {
		p.mu.Unlock()
		return false
	}
	p.text = text
	p.hasText = true
	notify := p.onChange
	own := p.NotifyOwnWrites
	p.mu.Unlock()

	if own && notify != nil {
		notify(text)
	}
	return true
}

func (p *MemoryPort) Subscribe(onChange func(string)) (Subscription, error) {
	p.mu.Lock()
	p.onChange = onChange
	p.mu.Unlock()
	return &memorySubscription{port: p}, nil
}

// Copy simulates the user copying text: it stores the text and fires the
// change notification synchronously.
func (p *MemoryPort) Copy(text string) {
	p.mu.Lock()
	p.text = text
	p.hasText = true
	notify := p.onChange
	p.mu.Unlock()

	if notify != nil {
		notify(text)
	}
}

type memorySubscription struct {
	port *MemoryPort
	once sync.Once
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.port.mu.Lock()
		s.port.onChange = nil
		s.port.mu.Unlock()
	})
}
