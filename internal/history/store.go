// Package history keeps a per-operation audit trail of anonymization runs in
// an embedded SQLite database. Rows hold entity metadata and timings only;
// clipboard text never reaches the database.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/securepaste/securepaste/internal/config"
	"github.com/securepaste/securepaste/internal/logger"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             INTEGER NOT NULL,
	run_id         TEXT NOT NULL,
	success        INTEGER NOT NULL,
	entities       TEXT NOT NULL,
	total_entities INTEGER NOT NULL,
	duration_ms    REAL NOT NULL,
	transport      TEXT NOT NULL,
	text_length    INTEGER NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_operations_ts ON operations (ts);
`

// Record is one anonymization run in the audit trail.
type Record struct {
	ID            int64          `db:"id"`
	Timestamp     time.Time      `db:"-"`
	RunID         string         `db:"run_id"`
	Success       bool           `db:"success"`
	Entities      map[string]int `db:"-"`
	TotalEntities int            `db:"total_entities"`
	DurationMS    float64        `db:"duration_ms"`
	Transport     string         `db:"transport"`
	TextLength    int            `db:"text_length"`
	FailureReason string         `db:"failure_reason"`
}

// row is the flat database shape of a Record.
type row struct {
	ID            int64   `db:"id"`
	TS            int64   `db:"ts"`
	RunID         string  `db:"run_id"`
	Success       bool    `db:"success"`
	Entities      string  `db:"entities"`
	TotalEntities int     `db:"total_entities"`
	DurationMS    float64 `db:"duration_ms"`
	Transport     string  `db:"transport"`
	TextLength    int     `db:"text_length"`
	FailureReason string  `db:"failure_reason"`
}

func (r row) toRecord() (Record, error) {
	entities := map[string]int{}
	if r.Entities != "" {
		if err := json.Unmarshal([]byte(r.Entities), &entities); err != nil {
			return Record{}, fmt.Errorf("history: corrupt entities column in row %d: %w", r.ID, err)
		}
	}
	return Record{
		ID:            r.ID,
		Timestamp:     time.UnixMilli(r.TS),
		RunID:         r.RunID,
		Success:       r.Success,
		Entities:      entities,
		TotalEntities: r.TotalEntities,
		DurationMS:    r.DurationMS,
		Transport:     r.Transport,
		TextLength:    r.TextLength,
		FailureReason: r.FailureReason,
	}, nil
}

// Store is the audit-trail store.
type Store struct {
	db        *sqlx.DB
	logger    *logger.Logger
	retention int
}

// NewStore opens (creating if needed) the history database.
func NewStore(cfg config.HistoryConfig, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("history: failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}

	// A single connection sidesteps SQLite writer contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to initialize schema: %w", err)
	}

	log.Info("History store ready",
		zap.String("path", cfg.Path),
		zap.Int("retention", cfg.Retention),
	)

	return &Store{db: db, logger: log, retention: cfg.Retention}, nil
}

// Append inserts one operation and prunes rows beyond the retention cap.
func (s *Store) Append(ctx context.Context, rec Record) error {
	entities, err := json.Marshal(rec.Entities)
	if err != nil {
		return fmt.Errorf("history: failed to encode entities: %w", err)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	const insert = `
		INSERT INTO operations (ts, run_id, success, entities, total_entities, duration_ms, transport, text_length, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insert,
		ts.UnixMilli(), rec.RunID, rec.Success, string(entities),
		rec.TotalEntities, rec.DurationMS, rec.Transport, rec.TextLength, rec.FailureReason,
	); err != nil {
		return fmt.Errorf("history: insert failed: %w", err)
	}

	if s.retention > 0 {
		const prune = `
			DELETE FROM operations
			WHERE id NOT IN (SELECT id FROM operations ORDER BY id DESC LIMIT ?)`
		if _, err := s.db.ExecContext(ctx, prune, s.retention); err != nil {
			s.logger.Warn("History prune failed", zap.Error(err))
		}
	}

	return nil
}

// Recent returns the most recent limit operations, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []row
	const query = `SELECT * FROM operations ORDER BY id DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("history: query failed: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			s.logger.Warn("Skipping corrupt history row", zap.Int64("id", r.ID), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Count returns the number of stored operations.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM operations`); err != nil {
		return 0, fmt.Errorf("history: count failed: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
