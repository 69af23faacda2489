package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilePersister writes the statistics snapshot to a JSON file at a per-user
// path. Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated document.
type FilePersister struct {
	path string
}

// NewFilePersister creates the parent directory and returns the persister.
func NewFilePersister(path string) (*FilePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("stats: failed to create directory: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Load reads a previously persisted snapshot. A missing file yields a zero
// snapshot; a corrupt file is reported so the caller can decide to start over.
func (p *FilePersister) Load() (Snapshot, error) {
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("stats: failed to read %s: %w", p.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("stats: corrupt statistics file %s: %w", p.path, err)
	}
	return snap, nil
}

// Persist writes the snapshot through to disk.
func (p *FilePersister) Persist(snap Snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}
