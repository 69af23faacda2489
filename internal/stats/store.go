// Package stats keeps the durable anonymization counters: operation totals,
// per-entity-type cumulative counts and the last-run timestamp.
package stats

import (
	"sync"
	"time"

	"github.com/securepaste/securepaste/internal/logger"
	"go.uber.org/zap"
)

// Snapshot is an immutable copy of the counters. The invariant
// TotalOperations == SuccessfulOperations + FailedOperations holds after
// every update.
type Snapshot struct {
	TotalOperations      int64            `json:"total_operations"`
	SuccessfulOperations int64            `json:"successful_operations"`
	FailedOperations     int64            `json:"failed_operations"`
	EntitiesFound        map[string]int64 `json:"entities_found"`
	LastOperation        *time.Time       `json:"last_operation,omitempty"`
}

// clone deep-copies the snapshot so readers never alias store state.
func (s Snapshot) clone() Snapshot {
	out := s
	out.EntitiesFound = make(map[string]int64, len(s.EntitiesFound))
	for entityType, count := range s.EntitiesFound {
		out.EntitiesFound[entityType] = count
	}
	if s.LastOperation != nil {
		ts := *s.LastOperation
		out.LastOperation = &ts
	}
	return out
}

// Persister writes a snapshot through to durable storage after each update.
// Failures are logged by the store, never propagated: statistics must not be
// able to break an anonymization run.
type Persister interface {
	Persist(Snapshot) error
}

// Store is the process-wide statistics accumulator. The pipeline's
// single-flight guard already serializes updates; the store's own lock exists
// for concurrent readers (dashboard, tests).
type Store struct {
	mu        sync.RWMutex
	snap      Snapshot
	persister Persister
	log       *logger.Logger
}

// NewStore creates a statistics store seeded with initial (typically loaded
// from the statistics file at startup).
func NewStore(initial Snapshot, persister Persister, log *logger.Logger) *Store {
	if initial.EntitiesFound == nil {
		initial.EntitiesFound = map[string]int64{}
	}
	if persister == nil {
		persister = NopPersister{}
	}
	return &Store{snap: initial.clone(), persister: persister, log: log}
}

// Update records one completed operation. entities may be nil for failures or
// runs that found nothing.
func (s *Store) Update(success bool, entities map[string]int) {
	s.mu.Lock()

	s.snap.TotalOperations++
	if success {
		s.snap.SuccessfulOperations++
	} else {
		s.snap.FailedOperations++
	}
	for entityType, count := range entities {
		s.snap.EntitiesFound[entityType] += int64(count)
	}
	now := time.Now()
	s.snap.LastOperation = &now

	persisted := s.snap.clone()
	s.mu.Unlock()

	if err := s.persister.Persist(persisted); err != nil {
		s.log.Warn("Failed to persist statistics", zap.Error(err))
	}
}

// Get returns an immutable copy of the counters.
func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Reset zeroes all counters and persists the empty snapshot.
func (s *Store) Reset() {
	s.mu.Lock()
	s.snap = Snapshot{EntitiesFound: map[string]int64{}}
	persisted := s.snap.clone()
	s.mu.Unlock()

	if err := s.persister.Persist(persisted); err != nil {
		s.log.Warn("Failed to persist statistics after reset", zap.Error(err))
	}
}

// NopPersister discards snapshots; used in tests and when persistence is
// disabled.
type NopPersister struct{}

func (NopPersister) Persist(Snapshot) error { return nil }
