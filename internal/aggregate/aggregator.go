// Package aggregate sums the raw action log into hourly inflow and outflow
// per wallet.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/observability"
	"anchor-flow-lab/internal/storage"
)

// DefaultChunkSize bounds the number of actions held per read.
const DefaultChunkSize = 250000

// ErrNoActions is returned when the log holds no action inside the window.
var ErrNoActions = errors.New("no actions in window")

type flowKey struct {
	hour   time.Time
	wallet string
}

// Totals accumulates amounts per (hour, wallet) for each action kind.
type Totals struct {
	sums  map[domain.ActionKind]map[flowKey]decimal.Decimal
	count int
}

// NewTotals creates empty totals.
func NewTotals() *Totals {
	return &Totals{sums: map[domain.ActionKind]map[flowKey]decimal.Decimal{
		domain.ActionDeposit: {},
		domain.ActionRedeem:  {},
	}}
}

// Add accumulates a. Unknown kinds are ignored and reported as false.
func (t *Totals) Add(a domain.Action) bool {
	byKey, ok := t.sums[a.Kind]
	if !ok {
		return false
	}
	k := flowKey{hour: a.Hour.UTC(), wallet: a.Wallet}
	byKey[k] = byKey[k].Add(a.Amount)
	t.count++
	return true
}

// Count returns the number of actions added.
func (t *Totals) Count() int {
	return t.count
}

// Flows returns the sums for kind ordered by hour, then wallet.
func (t *Totals) Flows(kind domain.ActionKind) []domain.HourlyFlow {
	byKey := t.sums[kind]
	out := make([]domain.HourlyFlow, 0, len(byKey))
	for k, amount := range byKey {
		out = append(out, domain.HourlyFlow{Hour: k.hour, Wallet: k.wallet, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Hour.Equal(out[j].Hour) {
			return out[i].Hour.Before(out[j].Hour)
		}
		return out[i].Wallet < out[j].Wallet
	})
	return out
}

// Summary describes one aggregation pass.
type Summary struct {
	Read          int // actions read from the log
	InWindow      int
	DepositRows   int
	RedeemRows    int
	OutsideWindow int
}

// Aggregator reads an action log in chunks and writes hourly flows.
type Aggregator struct {
	reader    storage.ActionReader
	stores    []storage.FlowStore
	chunkSize int
	log       *zap.SugaredLogger
}

// NewAggregator creates an aggregator writing to every store in order.
func NewAggregator(reader storage.ActionReader, chunkSize int, log *zap.SugaredLogger, stores ...storage.FlowStore) *Aggregator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Aggregator{reader: reader, stores: stores, chunkSize: chunkSize, log: log}
}

// Run aggregates the actions whose hour lies in w. When none do it writes
// nothing and returns ErrNoActions; a missing log counts as empty.
func (a *Aggregator) Run(ctx context.Context, w domain.Window) (*Summary, error) {
	sum := &Summary{}
	totals := NewTotals()

	err := a.reader.ReadChunks(ctx, a.chunkSize, func(chunk []domain.Action) error {
		sum.Read += len(chunk)
		for _, act := range chunk {
			if !w.Contains(act.Hour) {
				sum.OutsideWindow++
				continue
			}
			totals.Add(act)
		}
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return sum, fmt.Errorf("read action log: %w", err)
	}
	sum.InWindow = totals.Count()

	if sum.InWindow == 0 {
		a.log.Warnw("no actions collected, check ledger availability or widen the window",
			"window", w.String(),
			"read", sum.Read,
		)
		return sum, ErrNoActions
	}

	deposits := totals.Flows(domain.ActionDeposit)
	redeems := totals.Flows(domain.ActionRedeem)
	sum.DepositRows, sum.RedeemRows = len(deposits), len(redeems)

	for _, store := range a.stores {
		if err := store.InsertFlows(ctx, domain.ActionDeposit, deposits); err != nil {
			return sum, fmt.Errorf("write deposit flows: %w", err)
		}
		if err := store.InsertFlows(ctx, domain.ActionRedeem, redeems); err != nil {
			return sum, fmt.Errorf("write redeem flows: %w", err)
		}
	}
	observability.RecordAggregatedRows(string(domain.ActionDeposit), len(deposits))
	observability.RecordAggregatedRows(string(domain.ActionRedeem), len(redeems))

	a.log.Infow("aggregated hourly flows",
		"window", w.String(),
		"actions", sum.InWindow,
		"outside_window", sum.OutsideWindow,
		"deposit_rows", sum.DepositRows,
		"redeem_rows", sum.RedeemRows,
	)
	return sum, nil
}
