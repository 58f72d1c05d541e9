package postgres

import (
	"context"
	"time"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

// CheckpointStore is a PostgreSQL implementation of storage.CheckpointStore
// backed by the harvest_checkpoints table.
type CheckpointStore struct {
	pool *Pool
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates a new PostgreSQL checkpoint store.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Load returns the checkpoint for (account, label).
func (s *CheckpointStore) Load(ctx context.Context, account, label string) (cp *domain.Checkpoint, err error) {
	defer func(start time.Time) { observe("checkpoint_load", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT account, label, cursor_token, height_filter, height_from, height_to,
		       window_start, window_end, pages_processed,
		       oldest_seen, newest_seen, updated_at
		FROM harvest_checkpoints
		WHERE account = $1 AND label = $2
	`, account, label)

	var c domain.Checkpoint
	err = row.Scan(&c.Account, &c.Label, &c.Cursor, &c.HeightFilter, &c.HeightFrom, &c.HeightTo,
		&c.WindowStart, &c.WindowEnd, &c.PagesProcessed,
		&c.OldestSeen, &c.NewestSeen, &c.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	c.WindowStart = c.WindowStart.UTC()
	c.WindowEnd = c.WindowEnd.UTC()
	c.OldestSeen = c.OldestSeen.UTC()
	c.NewestSeen = c.NewestSeen.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// Save upserts the checkpoint keyed by (account, label).
func (s *CheckpointStore) Save(ctx context.Context, cp *domain.Checkpoint) (err error) {
	if err := storage.ValidateCheckpoint(cp); err != nil {
		return err
	}
	defer func(start time.Time) { observe("checkpoint_save", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO harvest_checkpoints (
			account, label, cursor_token, height_filter, height_from, height_to,
			window_start, window_end, pages_processed,
			oldest_seen, newest_seen, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account, label) DO UPDATE
		SET cursor_token = EXCLUDED.cursor_token,
		    height_filter = EXCLUDED.height_filter,
		    height_from = EXCLUDED.height_from,
		    height_to = EXCLUDED.height_to,
		    window_start = EXCLUDED.window_start,
		    window_end = EXCLUDED.window_end,
		    pages_processed = EXCLUDED.pages_processed,
		    oldest_seen = EXCLUDED.oldest_seen,
		    newest_seen = EXCLUDED.newest_seen,
		    updated_at = EXCLUDED.updated_at
	`, cp.Account, cp.Label, cp.Cursor, cp.HeightFilter, cp.HeightFrom, cp.HeightTo,
		cp.WindowStart.UTC(), cp.WindowEnd.UTC(), cp.PagesProcessed,
		cp.OldestSeen.UTC(), cp.NewestSeen.UTC(), cp.UpdatedAt.UTC())

	return err
}
