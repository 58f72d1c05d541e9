// Package file implements storage on the local filesystem: JSON checkpoint
// files, the CSV action log and the hourly flow CSV outputs.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

// CheckpointStore keeps one JSON file per label: <dir>/<prefix>_<label>.json.
type CheckpointStore struct {
	dir    string
	prefix string
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates dir if needed.
func NewCheckpointStore(dir, prefix string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir, prefix: prefix}, nil
}

// Path returns the checkpoint file for label.
func (s *CheckpointStore) Path(label string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", s.prefix, label))
}

type checkpointFile struct {
	Cursor       string    `json:"cursor"`
	HeightFilter bool      `json:"height_filter,omitempty"`
	HeightFrom   int64     `json:"height_from,omitempty"`
	HeightTo     int64     `json:"height_to,omitempty"`
	Pages        int       `json:"pages"`
	Label        string    `json:"label"`
	Account      string    `json:"account"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	OldestTS     time.Time `json:"oldest_ts"`
	NewestTS     time.Time `json:"newest_ts"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Load reads the checkpoint for label. A missing or undecodable file, or
// one written for another account, is reported as ErrNotFound.
func (s *CheckpointStore) Load(_ context.Context, account, label string) (*domain.Checkpoint, error) {
	data, err := os.ReadFile(s.Path(label))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var f checkpointFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.Path(label), storage.ErrNotFound)
	}
	if f.Account != account {
		return nil, storage.ErrNotFound
	}

	return &domain.Checkpoint{
		Account:        f.Account,
		Label:          f.Label,
		Cursor:         f.Cursor,
		HeightFilter:   f.HeightFilter,
		HeightFrom:     f.HeightFrom,
		HeightTo:       f.HeightTo,
		WindowStart:    f.WindowStart.UTC(),
		WindowEnd:      f.WindowEnd.UTC(),
		PagesProcessed: f.Pages,
		OldestSeen:     f.OldestTS.UTC(),
		NewestSeen:     f.NewestTS.UTC(),
		UpdatedAt:      f.UpdatedAt.UTC(),
	}, nil
}

// Save writes the checkpoint atomically: a reader sees either the previous
// file or the new one, never a partial write.
func (s *CheckpointStore) Save(_ context.Context, cp *domain.Checkpoint) error {
	if err := storage.ValidateCheckpoint(cp); err != nil {
		return err
	}

	data, err := json.MarshalIndent(checkpointFile{
		Cursor:       cp.Cursor,
		HeightFilter: cp.HeightFilter,
		HeightFrom:   cp.HeightFrom,
		HeightTo:     cp.HeightTo,
		Pages:        cp.PagesProcessed,
		Label:        cp.Label,
		Account:      cp.Account,
		WindowStart:  cp.WindowStart.UTC(),
		WindowEnd:    cp.WindowEnd.UTC(),
		OldestTS:     cp.OldestSeen.UTC(),
		NewestTS:     cp.NewestSeen.UTC(),
		UpdatedAt:    cp.UpdatedAt.UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return writeFileAtomic(s.Path(cp.Label), data)
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
