// Package clipboard abstracts the OS clipboard behind a small port interface
// so the anonymization pipeline only depends on "read text", "write text" and
// "subscribe to change".
package clipboard

// Port is the pipeline's view of the OS clipboard. All OS-level failures are
// absorbed into not-ok/false returns; retry policy belongs to the caller.
type Port interface {
	// GetText reads the current clipboard text. ok is false when the
	// clipboard is empty, holds non-text data, or the read fails.
	GetText() (text string, ok bool)

	// SetText replaces the clipboard content. It returns false on any
	// failure. A successful write triggers the OS change notification, so
	// subscribers observe their own writes.
	SetText(text string) bool

	// Subscribe registers interest in clipboard-change events. The callback
	// receives the new clipboard text and may run on an arbitrary goroutine.
	// At most one live subscription per process is supported.
	Subscribe(onChange func(text string)) (Subscription, error)
}

// Subscription is a handle to an active change-event registration.
type Subscription interface {
	// Close deregisters the subscription and stops callback delivery.
	Close()
}
