package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

// FlowStore implements storage.FlowStore on the hourly_flows table.
// Rows for the same (kind, hour, wallet) are replaced on merge, so
// re-aggregating a window is idempotent after OPTIMIZE or with FINAL.
type FlowStore struct {
	conn *Conn
}

// Compile-time interface check.
var _ storage.FlowStore = (*FlowStore)(nil)

// NewFlowStore creates a new FlowStore.
func NewFlowStore(conn *Conn) *FlowStore {
	return &FlowStore{conn: conn}
}

// InsertFlows inserts flows of one kind in a single batch.
func (s *FlowStore) InsertFlows(ctx context.Context, kind domain.ActionKind, flows []domain.HourlyFlow) (err error) {
	if !kind.IsValid() {
		return storage.ErrInvalidInput
	}
	if len(flows) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("flows_insert", start, err) }(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO hourly_flows (kind, hour, wallet, amount)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, f := range flows {
		if err := batch.Append(string(kind), f.Hour.UTC(), f.Wallet, columnAmount(f.Amount)); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetFlows returns the deduplicated flows of kind in [start, end], ordered
// by hour and wallet.
func (s *FlowStore) GetFlows(ctx context.Context, kind domain.ActionKind, start, end time.Time) (flows []domain.HourlyFlow, err error) {
	defer func(began time.Time) { observe("flows_select", began, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `
		SELECT hour, wallet, amount
		FROM hourly_flows FINAL
		WHERE kind = ? AND hour >= ? AND hour <= ?
		ORDER BY hour, wallet
	`, string(kind), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f      domain.HourlyFlow
			amount decimal.Decimal
		)
		if err := rows.Scan(&f.Hour, &f.Wallet, &amount); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		f.Hour = f.Hour.UTC()
		f.Amount = amount
		flows = append(flows, f)
	}
	return flows, rows.Err()
}
