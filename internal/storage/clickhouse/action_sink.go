package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

// ActionSink appends actions to the actions table. It does not own the
// connection; Close is a no-op.
type ActionSink struct {
	conn *Conn
}

// Compile-time interface checks.
var (
	_ storage.ActionSink   = (*ActionSink)(nil)
	_ storage.ActionReader = (*ActionSink)(nil)
)

// NewActionSink creates a new ActionSink.
func NewActionSink(conn *Conn) *ActionSink {
	return &ActionSink{conn: conn}
}

// Append inserts actions in a single batch.
func (s *ActionSink) Append(ctx context.Context, actions []domain.Action) (err error) {
	if len(actions) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("actions_insert", start, err) }(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO actions (hour, wallet, kind, verb, amount, tx_hash)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range actions {
		err = batch.Append(a.Hour.UTC(), a.Wallet, string(a.Kind), a.Verb, columnAmount(a.Amount), a.TxHash)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Close implements storage.ActionSink.
func (s *ActionSink) Close() error {
	return nil
}

// ReadChunks streams the actions table ordered by hour.
func (s *ActionSink) ReadChunks(ctx context.Context, size int, fn func([]domain.Action) error) (err error) {
	if size <= 0 {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("actions_scan", start, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `
		SELECT hour, wallet, kind, verb, amount, tx_hash
		FROM actions
		ORDER BY hour, wallet
	`)
	if err != nil {
		return fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	chunk := make([]domain.Action, 0, size)
	for rows.Next() {
		var (
			a      domain.Action
			kind   string
			amount decimal.Decimal
		)
		if err := rows.Scan(&a.Hour, &a.Wallet, &kind, &a.Verb, &amount, &a.TxHash); err != nil {
			return fmt.Errorf("scan action: %w", err)
		}
		a.Hour = a.Hour.UTC()
		a.Kind = domain.ActionKind(kind)
		a.Amount = amount
		chunk = append(chunk, a)

		if len(chunk) == size {
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = make([]domain.Action, 0, size)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate actions: %w", err)
	}
	if len(chunk) > 0 {
		return fn(chunk)
	}
	return nil
}
