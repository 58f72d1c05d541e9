package memory

import (
	"context"
	"sync"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

type checkpointKey struct {
	account string
	label   string
}

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu     sync.RWMutex
	data   map[checkpointKey]domain.Checkpoint
	writes int
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{data: make(map[checkpointKey]domain.Checkpoint)}
}

// Load returns a copy of the stored checkpoint.
func (s *CheckpointStore) Load(_ context.Context, account, label string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.data[checkpointKey{account, label}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &cp, nil
}

// Save overwrites the checkpoint for (account, label).
func (s *CheckpointStore) Save(_ context.Context, cp *domain.Checkpoint) error {
	if err := storage.ValidateCheckpoint(cp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[checkpointKey{cp.Account, cp.Label}] = *cp
	s.writes++
	return nil
}

// Writes returns the number of successful saves.
func (s *CheckpointStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
