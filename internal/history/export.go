package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/segmentio/parquet-go"
)

// exportRow is the Parquet shape of one audit record.
type exportRow struct {
	Timestamp     int64   `parquet:"ts"`
	RunID         string  `parquet:"run_id"`
	Success       bool    `parquet:"success"`
	Entities      string  `parquet:"entities"`
	TotalEntities int32   `parquet:"total_entities"`
	DurationMS    float64 `parquet:"duration_ms"`
	Transport     string  `parquet:"transport"`
	TextLength    int32   `parquet:"text_length"`
	FailureReason string  `parquet:"failure_reason"`
}

// ExportParquet dumps the whole audit trail to a Parquet file for offline
// analysis. The export carries the same metadata-only columns as the
// database; no clipboard text exists to leak.
func (s *Store) ExportParquet(ctx context.Context, path string) (int64, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM operations ORDER BY id ASC`); err != nil {
		return 0, fmt.Errorf("history: export query failed: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("history: failed to create export file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewGenericWriter[exportRow](file)

	out := make([]exportRow, 0, len(rows))
	for _, r := range rows {
		// Re-encode entities compactly; corrupt rows export as empty objects
		// rather than aborting the dump.
		entities := r.Entities
		var decoded map[string]int
		if json.Unmarshal([]byte(r.Entities), &decoded) != nil {
			entities = "{}"
		}

		out = append(out, exportRow{
			Timestamp:     r.TS,
			RunID:         r.RunID,
			Success:       r.Success,
			Entities:      entities,
			TotalEntities: int32(r.TotalEntities),
			DurationMS:    r.DurationMS,
			Transport:     r.Transport,
			TextLength:    int32(r.TextLength),
			FailureReason: r.FailureReason,
		})
	}

	if len(out) > 0 {
		if _, err := writer.Write(out); err != nil {
			return 0, fmt.Errorf("history: parquet write failed: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("history: parquet close failed: %w", err)
	}
	return int64(len(out)), nil
}
