package memory

import (
	"context"
	"sync"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

// FlowStore is an in-memory implementation of storage.FlowStore.
type FlowStore struct {
	mu      sync.RWMutex
	flows   map[domain.ActionKind][]domain.HourlyFlow
	written map[domain.ActionKind]bool
}

// Compile-time interface check.
var _ storage.FlowStore = (*FlowStore)(nil)

// NewFlowStore creates a new in-memory flow store.
func NewFlowStore() *FlowStore {
	return &FlowStore{
		flows:   make(map[domain.ActionKind][]domain.HourlyFlow),
		written: make(map[domain.ActionKind]bool),
	}
}

// InsertFlows appends flows for kind.
func (s *FlowStore) InsertFlows(_ context.Context, kind domain.ActionKind, flows []domain.HourlyFlow) error {
	if !kind.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[kind] = append(s.flows[kind], flows...)
	s.written[kind] = true
	return nil
}

// Written reports whether InsertFlows was called for kind, even with no rows.
func (s *FlowStore) Written(kind domain.ActionKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.written[kind]
}

// Flows returns a copy of the flows stored for kind.
func (s *FlowStore) Flows(kind domain.ActionKind) []domain.HourlyFlow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.HourlyFlow(nil), s.flows[kind]...)
}
