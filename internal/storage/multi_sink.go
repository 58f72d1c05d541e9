package storage

import (
	"context"
	"errors"

	"anchor-flow-lab/internal/domain"
)

// MultiSink appends to several sinks in order. The first failing sink
// aborts the append; earlier sinks keep what they already wrote.
type MultiSink struct {
	sinks []ActionSink
}

// Compile-time interface check.
var _ ActionSink = (*MultiSink)(nil)

// NewMultiSink fans out to sinks, skipping nil entries.
func NewMultiSink(sinks ...ActionSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Append implements ActionSink.
func (m *MultiSink) Append(ctx context.Context, actions []domain.Action) error {
	for _, s := range m.sinks {
		if err := s.Append(ctx, actions); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
