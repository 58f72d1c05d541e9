// Package harvest walks a ledger page by page inside a time window, extracts
// actions from every in-window transaction and checkpoints after each page
// so an interrupted run resumes where it stopped.
package harvest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/extraction"
	"anchor-flow-lab/internal/ledger"
	"anchor-flow-lab/internal/observability"
	"anchor-flow-lab/internal/storage"
)

// Defaults used when Config fields are zero.
const (
	DefaultMaxPages      = 20000
	DefaultPageDelay     = 200 * time.Millisecond
	DefaultProgressEvery = 50
)

// Config bounds and paces a harvest.
type Config struct {
	MaxPages      int           // soft cap on pages per run
	PageDelay     time.Duration // pause between page requests
	ProgressEvery int           // log progress every N pages
}

// DefaultConfig returns the settings used by the CLI.
func DefaultConfig() Config {
	return Config{
		MaxPages:      DefaultMaxPages,
		PageDelay:     DefaultPageDelay,
		ProgressEvery: DefaultProgressEvery,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.PageDelay < 0 {
		c.PageDelay = 0
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	return c
}

// Target identifies what is harvested and under which checkpoint label.
type Target struct {
	Account string
	Label   string
}

// State is the harvest state machine position.
type State int

// Harvest states.
const (
	StateSeeking State = iota
	StateHarvesting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateHarvesting:
		return "harvesting"
	default:
		return "done"
	}
}

// Result summarizes one run.
type Result struct {
	Pages             int // pages consulted in this run, seeking included
	SeekProbes        int
	Transactions      int // in-window transactions
	Actions           int
	Malformed         int // records the ledger client could not decode
	DroppedSegments   int
	DroppedWalletless int
	Capped            bool // stopped by MaxPages
	Resumed           bool // started from a checkpoint
	HeightFilter      bool // search harvest: height predicates in effect at the end
	FilterFallback    bool // search harvest: height filter was dropped
	Duration          time.Duration
}

// pageHandler is the per-page pipeline shared by both harvesters:
// filter to the window, extract, append, checkpoint.
type pageHandler struct {
	extractor   *extraction.Extractor
	sink        storage.ActionSink
	checkpoints storage.CheckpointStore
	log         *zap.SugaredLogger
	now         func() time.Time
}

// stopRule tells filterPage which side of the window ends the walk.
type stopRule struct {
	beforeStart bool // a transaction older than Start ends the walk
	afterEnd    bool // a transaction newer than End ends the walk
}

// pageActions is what one page contributed.
type pageActions struct {
	actions  []domain.Action
	stats    extraction.Stats
	inWindow int
	stop     bool // the walk has left the window
}

// filterPage extracts actions from the in-window transactions of txs in
// their native order.
func (p *pageHandler) filterPage(w domain.Window, txs []ledger.Transaction, rule stopRule) pageActions {
	var out pageActions
	for i := range txs {
		tx := &txs[i]
		if tx.Timestamp.Before(w.Start) {
			if rule.beforeStart {
				out.stop = true
				break
			}
			continue
		}
		if tx.Timestamp.After(w.End) {
			if rule.afterEnd {
				out.stop = true
				break
			}
			continue
		}
		out.inWindow++
		found, st := p.extractor.Extract(tx)
		out.stats.Add(st)
		out.actions = append(out.actions, found...)
	}
	return out
}

// commit appends the page's actions and then saves the checkpoint. The
// checkpoint is never written when the append fails.
func (p *pageHandler) commit(ctx context.Context, target Target, page pageActions, cp *domain.Checkpoint, res *Result) error {
	if len(page.actions) > 0 {
		if err := p.sink.Append(ctx, page.actions); err != nil {
			return fmt.Errorf("append actions: %w", err)
		}
	}
	cp.UpdatedAt = p.now().UTC()
	if err := p.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	stats := page.stats
	res.Transactions += page.inWindow
	res.Actions += len(page.actions)
	res.DroppedSegments += stats.DroppedSegments
	res.DroppedWalletless += stats.DroppedWalletless

	observability.RecordTransactionsInWindow(target.Label, page.inWindow)
	for _, a := range page.actions {
		observability.RecordAction(target.Label, string(a.Kind))
	}
	observability.RecordDropped(target.Label, "segment", stats.DroppedSegments)
	observability.RecordDropped(target.Label, "walletless", stats.DroppedWalletless)
	observability.RecordCheckpoint(target.Label, cp.NewestSeen.Unix())

	if stats.DroppedSegments > 0 || stats.DroppedWalletless > 0 {
		p.log.Debugw("dropped records on page",
			"label", target.Label,
			"segments", stats.DroppedSegments,
			"walletless", stats.DroppedWalletless,
		)
	}
	return nil
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
