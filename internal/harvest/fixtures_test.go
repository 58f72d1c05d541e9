package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/ledger"
	"anchor-flow-lab/internal/ledger/stub"
	"anchor-flow-lab/internal/storage"
)

var base = time.Date(2022, 5, 9, 0, 0, 0, 0, time.UTC)

// minute returns the timestamp of transaction i.
func minute(i int) time.Time {
	return base.Add(time.Duration(i) * time.Minute)
}

// depositTx is a one-segment deposit of 1 UST by wallet W<i>.
func depositTx(i int) ledger.Transaction {
	return ledger.Transaction{
		ID:        int64(i),
		Height:    int64(i),
		TxHash:    fmt.Sprintf("TX%04d", i),
		Timestamp: minute(i),
		Messages:  []ledger.Message{{Sender: fmt.Sprintf("W%d", i)}},
		Logs: []ledger.Log{{Events: []ledger.Event{{
			Type: "wasm",
			Attributes: []ledger.Attribute{
				{Key: "contract_address", Value: "MARKET"},
				{Key: "action", Value: "deposit_stable"},
				{Key: "depositor", Value: fmt.Sprintf("W%d", i)},
				{Key: "deposit_amount", Value: "1000000"},
			},
		}}}},
	}
}

// deposits builds transactions 1..n, one minute apart.
func deposits(n int) []ledger.Transaction {
	txs := make([]ledger.Transaction, 0, n)
	for i := 1; i <= n; i++ {
		txs = append(txs, depositTx(i))
	}
	return txs
}

func offsetLog(n, limit int) *stub.OffsetLog {
	return stub.NewOffsetLog(limit, deposits(n)...)
}

// secondHour is [01:00, 01:59:59], holding transactions 60..119.
func secondHour() domain.Window {
	return domain.Window{Start: minute(60), End: minute(120).Add(-time.Second)}
}

var market = Target{Account: "MARKET", Label: "market"}

func noDelay() Config {
	return Config{MaxPages: 1000, PageDelay: 0, ProgressEvery: 10}
}

// hashCounts counts appended actions per transaction hash.
func hashCounts(actions []domain.Action) map[string]int {
	out := make(map[string]int, len(actions))
	for _, a := range actions {
		out[a.TxHash]++
	}
	return out
}

// flakyCheckpoints fails every Save after the first failAfter successes.
type flakyCheckpoints struct {
	storage.CheckpointStore

	mu        sync.Mutex
	failAfter int
	saves     int
}

var errSaveFailed = errors.New("checkpoint write failed")

func (f *flakyCheckpoints) Save(ctx context.Context, cp *domain.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && f.saves >= f.failAfter {
		return errSaveFailed
	}
	f.saves++
	return f.CheckpointStore.Save(ctx, cp)
}

func (f *flakyCheckpoints) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAfter = 0
}

// undecodableOffset serves a page whose records all failed to decode at one
// offset and delegates every other fetch.
type undecodableOffset struct {
	*stub.OffsetLog
	at, next int64
	count    int
}

func (u *undecodableOffset) FetchPage(ctx context.Context, account string, offset *int64) (*ledger.Page, error) {
	if offset != nil && *offset == u.at {
		next := u.next
		return &ledger.Page{Malformed: u.count, Next: &next}, nil
	}
	return u.OffsetLog.FetchPage(ctx, account, offset)
}

// undecodableSearch does the same for one search pagination key.
type undecodableSearch struct {
	*stub.HeightLog
	key, next string
	count     int
}

func (u *undecodableSearch) SearchTxs(ctx context.Context, q ledger.SearchQuery) (*ledger.SearchPage, error) {
	if q.Key == u.key {
		return &ledger.SearchPage{Malformed: u.count, NextKey: u.next}, nil
	}
	return u.HeightLog.SearchTxs(ctx, q)
}
