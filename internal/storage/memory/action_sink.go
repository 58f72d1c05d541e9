package memory

import (
	"context"
	"errors"
	"sync"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

// ErrSinkFailure is returned by ActionSink when a failure is injected.
var ErrSinkFailure = errors.New("injected sink failure")

// ActionSink is an in-memory implementation of storage.ActionSink and
// storage.ActionReader.
type ActionSink struct {
	mu      sync.RWMutex
	actions []domain.Action
	appends int
	closed  bool

	// FailAfter makes Append fail once this many appends succeeded.
	// Zero disables injection.
	FailAfter int
}

// Compile-time interface checks.
var (
	_ storage.ActionSink   = (*ActionSink)(nil)
	_ storage.ActionReader = (*ActionSink)(nil)
)

// NewActionSink creates a new in-memory action sink.
func NewActionSink() *ActionSink {
	return &ActionSink{}
}

// Append stores a copy of actions.
func (s *ActionSink) Append(_ context.Context, actions []domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if s.FailAfter > 0 && s.appends >= s.FailAfter {
		return ErrSinkFailure
	}
	s.actions = append(s.actions, actions...)
	s.appends++
	return nil
}

// Close marks the sink closed.
func (s *ActionSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Actions returns a copy of everything appended so far.
func (s *ActionSink) Actions() []domain.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Action(nil), s.actions...)
}

// Appends returns the number of successful Append calls.
func (s *ActionSink) Appends() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appends
}

// ReadChunks implements storage.ActionReader.
func (s *ActionSink) ReadChunks(ctx context.Context, size int, fn func([]domain.Action) error) error {
	if size <= 0 {
		return storage.ErrInvalidInput
	}
	all := s.Actions()
	for start := 0; start < len(all); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + size
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}
