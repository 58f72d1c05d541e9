package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
	"anchor-flow-lab/internal/storage/memory"
)

func testActions(n int) []domain.Action {
	out := make([]domain.Action, n)
	for i := range out {
		out[i] = domain.Action{
			Hour:   time.Date(2022, 5, 9, 1, 0, 0, 0, time.UTC),
			Wallet: "W1",
			Kind:   domain.ActionDeposit,
			Verb:   "deposit_stable",
			Amount: decimal.NewFromInt(int64(i + 1)),
		}
	}
	return out
}

func TestMultiSink_FansOutInOrder(t *testing.T) {
	a, b := memory.NewActionSink(), memory.NewActionSink()
	sink := storage.NewMultiSink(a, nil, b)

	if err := sink.Append(context.Background(), testActions(3)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(a.Actions()) != 3 || len(b.Actions()) != 3 {
		t.Errorf("expected both sinks to hold 3 actions, got %d and %d", len(a.Actions()), len(b.Actions()))
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Append(context.Background(), testActions(1)); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("first sink should be closed, got %v", err)
	}
}

func TestMultiSink_FirstErrorAborts(t *testing.T) {
	failing := memory.NewActionSink()
	failing.FailAfter = 1
	after := memory.NewActionSink()
	sink := storage.NewMultiSink(failing, after)

	ctx := context.Background()
	if err := sink.Append(ctx, testActions(1)); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	err := sink.Append(ctx, testActions(2))
	if !errors.Is(err, memory.ErrSinkFailure) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if got := len(after.Actions()); got != 1 {
		t.Errorf("later sink must not see the failed append, has %d actions", got)
	}
}
