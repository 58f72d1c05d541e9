// Package storage defines persistence for harvest checkpoints, the raw
// action log and aggregated hourly flows.
package storage

import (
	"context"

	"anchor-flow-lab/internal/domain"
)

// CheckpointStore persists harvest progress, one record per (account, label).
type CheckpointStore interface {
	// Load returns the checkpoint for (account, label).
	// Returns ErrNotFound if none has been saved.
	Load(ctx context.Context, account, label string) (*domain.Checkpoint, error)

	// Save overwrites the checkpoint for (cp.Account, cp.Label).
	// Returns ErrInvalidInput if cp is nil or has no account or label.
	Save(ctx context.Context, cp *domain.Checkpoint) error
}

// ActionSink is an append-only destination for extracted actions.
// A sink has a single writer for the duration of a run.
type ActionSink interface {
	// Append durably writes actions. Returning nil means the actions are
	// persisted and a checkpoint past them may be written.
	Append(ctx context.Context, actions []domain.Action) error

	// Close releases the sink.
	Close() error
}

// ActionReader streams a persisted action log in bounded chunks.
type ActionReader interface {
	// ReadChunks calls fn with consecutive chunks of at most size actions.
	// Returns ErrNotFound if the log does not exist.
	ReadChunks(ctx context.Context, size int, fn func([]domain.Action) error) error
}

// FlowStore receives aggregated hourly flows.
type FlowStore interface {
	// InsertFlows writes the flows of one action kind.
	InsertFlows(ctx context.Context, kind domain.ActionKind, flows []domain.HourlyFlow) error
}

// ValidateCheckpoint checks the identifying fields of cp.
func ValidateCheckpoint(cp *domain.Checkpoint) error {
	if cp == nil || cp.Account == "" || cp.Label == "" {
		return ErrInvalidInput
	}
	return nil
}
