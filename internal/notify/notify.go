// Package notify fans anonymization outcomes out to interested surfaces (log,
// dashboard). Notification is best effort: a slow or absent listener never
// affects pipeline correctness.
package notify

import (
	"time"

	"github.com/securepaste/securepaste/internal/logger"
	"go.uber.org/zap"
)

// AppliedEvent reports a successful anonymization write-back. It carries
// entity metadata only, never clipboard text.
type AppliedEvent struct {
	RunID         string         `json:"run_id"`
	Entities      map[string]int `json:"entities"`
	TotalEntities int            `json:"total_entities"`
	DurationMS    float64        `json:"duration_ms"`
	Timestamp     time.Time      `json:"timestamp"`
}

// FailureEvent reports a failed run. The clipboard keeps its original content
// when one of these fires.
type FailureEvent struct {
	RunID     string    `json:"run_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives outcome events. Implementations must return fast and must
// not panic.
type Notifier interface {
	AnonymizationApplied(AppliedEvent)
	RunFailed(FailureEvent)
}

// Multi fans events out to several notifiers in order.
type Multi []Notifier

func (m Multi) AnonymizationApplied(ev AppliedEvent) {
	for _, n := range m {
		n.AnonymizationApplied(ev)
	}
}

func (m Multi) RunFailed(ev FailureEvent) {
	for _, n := range m {
		n.RunFailed(ev)
	}
}

// LogNotifier writes outcomes to the structured log.
type LogNotifier struct {
	log *logger.Logger
}

// NewLog creates a log-backed notifier.
func NewLog(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) AnonymizationApplied(ev AppliedEvent) {
	n.log.LogOutcome(ev.RunID, true, ev.Entities, ev.DurationMS)
}

func (n *LogNotifier) RunFailed(ev FailureEvent) {
	n.log.Warn("Anonymization run failed; clipboard left untouched",
		zap.String("run_id", ev.RunID),
		zap.String("reason", ev.Reason),
	)
}
