package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/ledger/stub"
	"anchor-flow-lab/internal/storage"
	"anchor-flow-lab/internal/storage/memory"
)

func newOffsetHarvester(src *stub.OffsetLog, sink *memory.ActionSink, cps storage.CheckpointStore, cfg Config) *OffsetHarvester {
	return NewOffsetHarvester(OffsetOptions{
		Source:      src,
		Sink:        sink,
		Checkpoints: cps,
		Config:      cfg,
	})
}

func TestOffsetHarvester_HarvestsWindow(t *testing.T) {
	src := offsetLog(300, 25)
	sink := memory.NewActionSink()
	cps := memory.NewCheckpointStore()
	w := secondHour()

	res, err := newOffsetHarvester(src, sink, cps, noDelay()).Run(context.Background(), market, w)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	actions := sink.Actions()
	if len(actions) != 60 {
		t.Fatalf("expected 60 actions, got %d", len(actions))
	}
	for _, a := range actions {
		if !a.Hour.Equal(minute(60)) {
			t.Errorf("action %s hour = %s, want 01:00", a.TxHash, a.Hour)
		}
		if a.Kind != domain.ActionDeposit || !a.Amount.Equal(decimal.NewFromInt(1)) {
			t.Errorf("unexpected action %+v", a)
		}
	}
	for hash, n := range hashCounts(actions) {
		if n != 1 {
			t.Errorf("%s appended %d times", hash, n)
		}
	}

	if res.Transactions != 60 || res.Actions != 60 {
		t.Errorf("result counted %d txs / %d actions, want 60/60", res.Transactions, res.Actions)
	}
	if res.SeekProbes == 0 {
		t.Error("expected the locator to be used")
	}
	if res.Resumed || res.Capped {
		t.Errorf("unexpected flags %+v", res)
	}

	cp, err := cps.Load(context.Background(), market.Account, market.Label)
	if err != nil {
		t.Fatalf("checkpoint not saved: %v", err)
	}
	if !cp.Matches(w) {
		t.Errorf("checkpoint window %s, want %s", cp.Window(), w)
	}
	if cp.PagesProcessed != res.Pages || cps.Writes() != res.Pages {
		t.Errorf("checkpoint pages %d, writes %d, result pages %d", cp.PagesProcessed, cps.Writes(), res.Pages)
	}
	if cp.Cursor == "" {
		t.Error("expected a continuation cursor")
	}
}

func TestOffsetHarvester_RerunAfterCompletionAddsNothing(t *testing.T) {
	src := offsetLog(300, 25)
	cps := memory.NewCheckpointStore()
	w := secondHour()

	first := memory.NewActionSink()
	if _, err := newOffsetHarvester(src, first, cps, noDelay()).Run(context.Background(), market, w); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := memory.NewActionSink()
	res, err := newOffsetHarvester(src, second, cps, noDelay()).Run(context.Background(), market, w)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !res.Resumed {
		t.Error("expected second run to resume")
	}
	if got := len(second.Actions()); got != 0 {
		t.Errorf("rerun appended %d actions", got)
	}
}

func TestOffsetHarvester_ResumesAfterSourceFailure(t *testing.T) {
	src := offsetLog(300, 25)
	src.FailAfter = 2
	sink := memory.NewActionSink()
	cps := memory.NewCheckpointStore()
	w := secondHour()

	start := int64(120)
	h := NewOffsetHarvester(OffsetOptions{
		Source:      src,
		Sink:        sink,
		Checkpoints: cps,
		Config:      noDelay(),
		StartOffset: &start,
	})
	if _, err := h.Run(context.Background(), market, w); !errors.Is(err, stub.ErrInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if cps.Writes() != 2 {
		t.Fatalf("expected 2 checkpoints before the failure, got %d", cps.Writes())
	}

	src.FailAfter = 0
	res, err := newOffsetHarvester(src, sink, cps, noDelay()).Run(context.Background(), market, w)
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if !res.Resumed || res.SeekProbes != 0 {
		t.Errorf("expected a resume without seeking, got %+v", res)
	}

	counts := hashCounts(sink.Actions())
	if len(counts) != 60 {
		t.Errorf("expected 60 distinct transactions, got %d", len(counts))
	}
	for hash, n := range counts {
		if n != 1 {
			t.Errorf("%s appended %d times", hash, n)
		}
	}

	cp, _ := cps.Load(context.Background(), market.Account, market.Label)
	if cp.PagesProcessed != 3 {
		t.Errorf("expected cumulative page count 3, got %d", cp.PagesProcessed)
	}
}

func TestOffsetHarvester_CrashBetweenAppendAndCheckpoint(t *testing.T) {
	src := offsetLog(300, 25)
	sink := memory.NewActionSink()
	cps := &flakyCheckpoints{CheckpointStore: memory.NewCheckpointStore(), failAfter: 1}
	w := secondHour()

	_, err := newOffsetHarvester(src, sink, cps, noDelay()).Run(context.Background(), market, w)
	if !errors.Is(err, errSaveFailed) {
		t.Fatalf("expected checkpoint failure, got %v", err)
	}
	afterCrash := len(sink.Actions())

	cps.heal()
	if _, err := newOffsetHarvester(src, sink, cps, noDelay()).Run(context.Background(), market, w); err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	counts := hashCounts(sink.Actions())
	if len(counts) != 60 {
		t.Fatalf("expected 60 distinct transactions, got %d", len(counts))
	}
	dups := 0
	for _, n := range counts {
		if n > 2 {
			t.Fatalf("transaction appended %d times", n)
		}
		if n == 2 {
			dups++
		}
	}
	// only the page whose checkpoint was lost is replayed
	if dups == 0 || dups > 25 || dups > afterCrash {
		t.Errorf("unexpected duplicate count %d (after crash %d)", dups, afterCrash)
	}
}

func TestOffsetHarvester_SinkFailureLeavesCheckpoint(t *testing.T) {
	src := offsetLog(300, 25)
	sink := memory.NewActionSink()
	sink.FailAfter = 1
	cps := memory.NewCheckpointStore()
	w := secondHour()

	if _, err := newOffsetHarvester(src, sink, cps, noDelay()).Run(context.Background(), market, w); !errors.Is(err, memory.ErrSinkFailure) {
		t.Fatalf("expected sink failure, got %v", err)
	}
	if cps.Writes() != 1 {
		t.Fatalf("checkpoint must not advance past a failed append, writes=%d", cps.Writes())
	}

	sink.FailAfter = 0
	if _, err := newOffsetHarvester(src, sink, cps, noDelay()).Run(context.Background(), market, w); err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	counts := hashCounts(sink.Actions())
	if len(counts) != 60 || len(sink.Actions()) != 60 {
		t.Errorf("expected 60 actions without duplicates, got %d (%d distinct)", len(sink.Actions()), len(counts))
	}
}

func TestOffsetHarvester_CheckpointForOtherWindowIsIgnored(t *testing.T) {
	src := offsetLog(300, 25)
	sink := memory.NewActionSink()
	cps := memory.NewCheckpointStore()
	w := secondHour()

	stale := &domain.Checkpoint{
		Account:     market.Account,
		Label:       market.Label,
		Cursor:      "10",
		WindowStart: minute(0),
		WindowEnd:   minute(59),
	}
	if err := cps.Save(context.Background(), stale); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	res, err := newOffsetHarvester(src, sink, cps, noDelay()).Run(context.Background(), market, w)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Resumed {
		t.Error("checkpoint for another window must not be resumed")
	}
	if got := len(sink.Actions()); got != 60 {
		t.Errorf("expected 60 actions, got %d", got)
	}
}

func TestOffsetHarvester_EmptyCursorCheckpointReseeks(t *testing.T) {
	src := offsetLog(300, 25)
	sink := memory.NewActionSink()
	cps := memory.NewCheckpointStore()
	w := secondHour()

	_ = cps.Save(context.Background(), &domain.Checkpoint{
		Account:     market.Account,
		Label:       market.Label,
		WindowStart: w.Start,
		WindowEnd:   w.End,
	})

	res, err := newOffsetHarvester(src, sink, cps, noDelay()).Run(context.Background(), market, w)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Resumed || res.SeekProbes == 0 {
		t.Errorf("expected a fresh seek, got %+v", res)
	}
	if got := len(sink.Actions()); got != 60 {
		t.Errorf("expected 60 actions, got %d", got)
	}
}

func TestOffsetHarvester_ManualStartOffset(t *testing.T) {
	src := offsetLog(300, 25)
	sink := memory.NewActionSink()
	start := int64(90)

	h := NewOffsetHarvester(OffsetOptions{
		Source:      src,
		Sink:        sink,
		Checkpoints: memory.NewCheckpointStore(),
		Config:      noDelay(),
		StartOffset: &start,
	})
	res, err := h.Run(context.Background(), market, secondHour())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.SeekProbes != 0 {
		t.Errorf("manual offset must skip the seek, probes=%d", res.SeekProbes)
	}
	// transactions 60..89
	if got := len(sink.Actions()); got != 30 {
		t.Errorf("expected 30 actions, got %d", got)
	}
}

func TestOffsetHarvester_PageCap(t *testing.T) {
	src := offsetLog(300, 25)
	sink := memory.NewActionSink()
	cfg := noDelay()
	cfg.MaxPages = 1

	res, err := newOffsetHarvester(src, sink, memory.NewCheckpointStore(), cfg).Run(context.Background(), market, secondHour())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Capped || res.Pages != 1 {
		t.Errorf("expected a capped single page, got %+v", res)
	}
	if got := len(sink.Actions()); got != 25 {
		t.Errorf("expected 25 actions, got %d", got)
	}
}

func TestOffsetHarvester_EmptyLog(t *testing.T) {
	sink := memory.NewActionSink()
	cps := memory.NewCheckpointStore()

	res, err := newOffsetHarvester(stub.NewOffsetLog(25), sink, cps, noDelay()).Run(context.Background(), market, secondHour())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Pages != 0 || len(sink.Actions()) != 0 || cps.Writes() != 0 {
		t.Errorf("expected no work, got %+v", res)
	}
}

func TestOffsetHarvester_WindowNewerThanLog(t *testing.T) {
	sink := memory.NewActionSink()
	w := domain.Window{Start: minute(600), End: minute(660)}

	res, err := newOffsetHarvester(offsetLog(300, 25), sink, memory.NewCheckpointStore(), noDelay()).Run(context.Background(), market, w)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Pages != 1 || res.Actions != 0 {
		t.Errorf("expected one page and no actions, got %+v", res)
	}
}

func TestOffsetHarvester_WindowOlderThanLog(t *testing.T) {
	sink := memory.NewActionSink()
	cps := memory.NewCheckpointStore()
	w := domain.Window{Start: base.Add(-48 * time.Hour), End: base.Add(-24 * time.Hour)}

	res, err := newOffsetHarvester(offsetLog(300, 25), sink, cps, noDelay()).Run(context.Background(), market, w)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// every page is newer than the window: all 12 are consulted while seeking
	if res.Pages != 12 || res.Actions != 0 || cps.Writes() != 0 {
		t.Errorf("unexpected result %+v, writes %d", res, cps.Writes())
	}
}

func TestOffsetHarvester_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newOffsetHarvester(offsetLog(300, 25), memory.NewActionSink(), memory.NewCheckpointStore(), noDelay()).Run(ctx, market, secondHour())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOffsetHarvester_UndecodablePageDoesNotEndHarvest(t *testing.T) {
	// ids 120..144 failed to decode; the harvest must continue below them
	src := &undecodableOffset{OffsetLog: offsetLog(300, 25), at: 145, next: 120, count: 25}
	sink := memory.NewActionSink()
	cps := memory.NewCheckpointStore()
	start := int64(145)

	h := NewOffsetHarvester(OffsetOptions{
		Source:      src,
		Sink:        sink,
		Checkpoints: cps,
		Config:      noDelay(),
		StartOffset: &start,
	})
	res, err := h.Run(context.Background(), market, secondHour())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Malformed != 25 {
		t.Errorf("expected 25 malformed records, got %d", res.Malformed)
	}
	if res.Pages != 4 || cps.Writes() != 4 {
		t.Errorf("expected 4 pages and checkpoints, got %d and %d", res.Pages, cps.Writes())
	}
	if got := len(hashCounts(sink.Actions())); got != 60 {
		t.Errorf("expected 60 actions past the undecodable page, got %d", got)
	}
}
