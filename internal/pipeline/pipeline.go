// Package pipeline contains the clipboard anonymization orchestrator: it
// observes clipboard changes, guards against re-entrancy and overlapping runs,
// drives the analysis engine, and decides atomically whether to overwrite the
// clipboard.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/securepaste/securepaste/internal/cache"
	"github.com/securepaste/securepaste/internal/clipboard"
	"github.com/securepaste/securepaste/internal/engine"
	"github.com/securepaste/securepaste/internal/history"
	"github.com/securepaste/securepaste/internal/logger"
	"github.com/securepaste/securepaste/internal/notify"
	"github.com/securepaste/securepaste/internal/rules"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Engine is the slice of the engine client the pipeline needs.
type Engine interface {
	Anonymize(ctx context.Context, text string, rs rules.RuleSet) (*engine.Result, error)
}

// Recorder is the slice of the history store the pipeline needs.
type Recorder interface {
	Append(ctx context.Context, rec history.Record) error
}

// Config contains the pipeline tuning knobs.
type Config struct {
	// EngineTimeout bounds one engine call end to end.
	EngineTimeout time.Duration
	// SentinelCooldown is how long the pipeline's own write-back suppresses
	// identical content. Zero or negative keeps the sentinel armed until the
	// next write.
	SentinelCooldown time.Duration
	// EventsPerSecond and EventBurst throttle change notifications; zero
	// EventsPerSecond disables throttling.
	EventsPerSecond float64
	EventBurst      int
}

// Deps are the pipeline's collaborators. Port, Engine, Stats and Rules are
// required; the rest default to inert implementations.
type Deps struct {
	Port     clipboard.Port
	Engine   Engine
	Cache    cache.Cache
	Stats    StatsStore
	History  Recorder
	Notifier notify.Notifier
	// Rules returns the current rule configuration; the pipeline snapshots
	// it once per run.
	Rules func() rules.RuleSet
	// Transport labels history records with the active engine channel.
	Transport func() string
	Logger    *logger.Logger
}

// StatsStore is the slice of the statistics store the pipeline needs.
type StatsStore interface {
	Update(success bool, entities map[string]int)
}

// Pipeline is the process-wide orchestrator. All mutable state (the
// single-flight guard, the loop-prevention sentinel, the cooldown timer)
// lives behind one mutex owned by this instance; there are no package-level
// singletons.
type Pipeline struct {
	cfg      Config
	port     clipboard.Port
	engine   Engine
	cache    cache.Cache
	stats    StatsStore
	history  Recorder
	notifier notify.Notifier
	rules    func() rules.RuleSet
	tname    func() string
	log      *logger.Logger

	limiter *rate.Limiter

	mu            sync.Mutex
	processing    bool
	lastWritten   string
	hasSentinel   bool
	lastWrittenAt time.Time
	sentinelTimer *time.Timer
	closed        bool
	sub           clipboard.Subscription

	wg sync.WaitGroup
}

// New assembles a pipeline. It does not subscribe yet; call Start.
func New(cfg Config, deps Deps) *Pipeline {
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Multi{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Transport == nil {
		deps.Transport = func() string { return "unknown" }
	}
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = 2 * time.Minute
	}

	var limiter *rate.Limiter
	if cfg.EventsPerSecond > 0 {
		burst := cfg.EventBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
	}

	return &Pipeline{
		cfg:      cfg,
		port:     deps.Port,
		engine:   deps.Engine,
		cache:    deps.Cache,
		stats:    deps.Stats,
		history:  deps.History,
		notifier: deps.Notifier,
		rules:    deps.Rules,
		tname:    deps.Transport,
		log:      deps.Logger,
		limiter:  limiter,
	}
}

// Start subscribes to clipboard changes. The pipeline then runs for the
// lifetime of the process until Close.
func (p *Pipeline) Start() error {
	sub, err := p.port.Subscribe(func(string) { p.OnChange() })
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()

	p.log.Info("Anonymization pipeline started",
		zap.Duration("engine_timeout", p.cfg.EngineTimeout),
		zap.Duration("sentinel_cooldown", p.cfg.SentinelCooldown),
	)
	return nil
}

// OnChange is the clipboard-change entry point. It admits at most one run at
// a time; notifications arriving while a run is in flight are dropped, not
// queued; the next organic change will be processed instead. Throttled
// events are dropped the same way.
func (p *Pipeline) OnChange() {
	if p.limiter != nil && !p.limiter.Allow() {
		p.log.Debug("Clipboard event throttled")
		return
	}

	p.mu.Lock()
	if p.closed || p.processing {
		p.mu.Unlock()
		p.log.Debug("Clipboard event dropped, run in progress")
		return
	}
	p.processing = true
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run()
}

// run executes one anonymization pass. The guard is released on every exit
// path; a panic inside orchestration is recovered, logged and recorded as a
// failed operation, and the clipboard keeps its last-known-good content.
func (p *Pipeline) run() {
	runID := uuid.NewString()
	start := time.Now()
	log := p.log.WithRunID(runID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic in anonymization run", zap.Any("panic", r))
			p.stats.Update(false, nil)
		}
		p.mu.Lock()
		p.processing = false
		p.mu.Unlock()
		p.wg.Done()
	}()

	// Step 1: read the clipboard now; the change event itself carries no
	// authoritative payload.
	text, ok := p.port.GetText()
	if !ok {
		log.Debug("Clipboard unreadable, skipping run")
		return
	}
	if strings.TrimSpace(text) == "" {
		log.Debug("Clipboard empty or whitespace, skipping run")
		return
	}

	// Step 2: loop prevention. Byte-exact comparison; even a whitespace
	// difference is new content.
	p.mu.Lock()
	ownWrite := p.hasSentinel && text == p.lastWritten
	p.mu.Unlock()
	if ownWrite {
		log.Debug("Change is the pipeline's own write-back, skipping run")
		return
	}

	// Step 3: snapshot the rule configuration for the whole run.
	rs := p.rules().Snapshot()
	if !rs.Enabled {
		log.Debug("Anonymization disabled, skipping run")
		return
	}

	// Step 4: cache, then engine.
	result, fromCache, err := p.resolve(text, rs, log)
	if err != nil {
		p.finishFailure(log, runID, failureReason(err), len(text), start)
		return
	}

	// Step 5/6: write back only when the engine changed the text. An
	// identical result counts as a success with zero entities, whatever the
	// engine claimed to have found.
	if !result.Changed(text) {
		p.stats.Update(true, nil)
		p.record(runID, true, nil, 0, "", len(text), start)
		log.Debug("Nothing to anonymize, clipboard untouched")
		return
	}

	if !p.port.SetText(result.AnonymizedText) {
		p.finishFailure(log, runID, "clipboard write failed", len(text), start)
		return
	}

	p.armSentinel(result.AnonymizedText)

	p.stats.Update(true, result.EntitiesFound)
	if !fromCache {
		p.cacheResult(text, rs, result)
	}
	p.record(runID, true, result.EntitiesFound, result.TotalEntities, "", len(text), start)
	p.notifier.AnonymizationApplied(notify.AppliedEvent{
		RunID:         runID,
		Entities:      result.EntitiesFound,
		TotalEntities: result.TotalEntities,
		DurationMS:    msSince(start),
		Timestamp:     time.Now(),
	})
}

// resolve returns the anonymization result for text, from the cache when
// possible, otherwise from the engine under the configured timeout.
func (p *Pipeline) resolve(text string, rs rules.RuleSet, log *logger.Logger) (*engine.Result, bool, error) {
	key := cache.Key(text, rs.Fingerprint())

	cacheCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	result, hit := p.cache.Get(cacheCtx, key)
	cancel()
	if hit {
		log.Debug("Engine result served from cache")
		return result, true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.EngineTimeout)
	defer cancel()

	result, err := p.engine.Anonymize(ctx, text, rs)
	if err != nil {
		return nil, false, err
	}
	return result, false, nil
}

func (p *Pipeline) cacheResult(text string, rs rules.RuleSet, result *engine.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.cache.Set(ctx, cache.Key(text, rs.Fingerprint()), result)
}

// armSentinel remembers the pipeline's own write so the resulting change
// notification is recognized and skipped. The sentinel clears after the
// cooldown so a user who deliberately re-copies the same anonymized text is
// not suppressed forever.
func (p *Pipeline) armSentinel(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastWritten = text
	p.hasSentinel = true
	p.lastWrittenAt = time.Now()

	if p.sentinelTimer != nil {
		p.sentinelTimer.Stop()
		p.sentinelTimer = nil
	}
	if p.cfg.SentinelCooldown > 0 {
		written := text
		p.sentinelTimer = time.AfterFunc(p.cfg.SentinelCooldown, func() {
			p.mu.Lock()
			if p.hasSentinel && p.lastWritten == written {
				p.hasSentinel = false
			}
			p.mu.Unlock()
		})
	}
}

func (p *Pipeline) finishFailure(log *logger.Logger, runID, reason string, textLen int, start time.Time) {
	p.stats.Update(false, nil)
	p.record(runID, false, nil, 0, reason, textLen, start)
	p.notifier.RunFailed(notify.FailureEvent{
		RunID:     runID,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	log.Warn("Anonymization run failed, clipboard untouched", zap.String("reason", reason))
}

func (p *Pipeline) record(runID string, success bool, entities map[string]int, total int, reason string, textLen int, start time.Time) {
	if p.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.history.Append(ctx, history.Record{
		Timestamp:     time.Now(),
		RunID:         runID,
		Success:       success,
		Entities:      entities,
		TotalEntities: total,
		DurationMS:    msSince(start),
		Transport:     p.tname(),
		TextLength:    textLen,
		FailureReason: reason,
	})
	if err != nil {
		p.log.Warn("Failed to append history record", zap.Error(err))
	}
}

// Close detaches the clipboard subscription and waits for the in-flight run,
// if any, to complete. Safe to call more than once.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sub := p.sub
	p.sub = nil
	timer := p.sentinelTimer
	p.sentinelTimer = nil
	p.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	p.wg.Wait()
	if timer != nil {
		timer.Stop()
	}

	p.log.Info("Anonymization pipeline stopped")
}

// failureReason maps engine errors to short audit strings.
func failureReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrTimeout):
		return "engine timeout"
	case errors.Is(err, engine.ErrUnavailable):
		return "engine unavailable"
	case errors.Is(err, engine.ErrMalformedResponse):
		return "malformed engine response"
	}

	var failure *engine.FailureError
	if errors.As(err, &failure) {
		return "engine failure: " + failure.Message
	}
	return err.Error()
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
