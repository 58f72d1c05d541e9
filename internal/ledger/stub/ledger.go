// Package stub provides in-memory ledgers for tests.
package stub

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"anchor-flow-lab/internal/ledger"
)

// ErrInjected is returned by stubs when a failure is injected.
var ErrInjected = errors.New("injected failure")

// OffsetLog implements ledger.OffsetSource over a fixed set of transactions,
// FCD style: offsets are transaction ids, pages are newest first and the page
// at offset O holds transactions with id < O.
type OffsetLog struct {
	mu    sync.Mutex
	txs   []ledger.Transaction // ascending by ID
	limit int

	// FailAfter makes FetchPage fail once this many pages were served.
	// Zero disables injection.
	FailAfter int

	fetches int
}

// Compile-time interface check.
var _ ledger.OffsetSource = (*OffsetLog)(nil)

// NewOffsetLog creates a log. Transactions must carry unique positive IDs.
func NewOffsetLog(limit int, txs ...ledger.Transaction) *OffsetLog {
	sorted := append([]ledger.Transaction(nil), txs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &OffsetLog{txs: sorted, limit: limit}
}

// Fetches returns the number of FetchPage calls served, including failed ones.
func (l *OffsetLog) Fetches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetches
}

// FetchPage implements ledger.OffsetSource.
func (l *OffsetLog) FetchPage(ctx context.Context, _ string, offset *int64) (*ledger.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailAfter > 0 && l.fetches >= l.FailAfter {
		l.fetches++
		return nil, &ledger.TransportError{Endpoint: "stub", Op: "fetch_page", Attempts: 1, Err: ErrInjected}
	}
	l.fetches++

	// index of first tx with id >= offset
	end := len(l.txs)
	if offset != nil {
		end = sort.Search(len(l.txs), func(i int) bool { return l.txs[i].ID >= *offset })
	}

	page := &ledger.Page{}
	for i := end - 1; i >= 0 && len(page.Transactions) < l.limit; i-- {
		page.Transactions = append(page.Transactions, l.txs[i])
	}
	if n := len(page.Transactions); n > 0 && end-n > 0 {
		next := page.Transactions[n-1].ID
		page.Next = &next
	}
	return page, nil
}

// LatestPosition implements ledger.OffsetSource. It returns one past the
// newest id so that a page at the latest position includes the newest tx.
func (l *OffsetLog) LatestPosition(ctx context.Context, _ string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.txs) == 0 {
		return 0, false, nil
	}
	return l.txs[len(l.txs)-1].ID + 1, true, nil
}

// HeightLog implements ledger.HeightSource over a block list and
// transactions indexed by height.
type HeightLog struct {
	mu     sync.Mutex
	blocks []time.Time // blocks[h-1] is the time of height h
	txs    []ledger.Transaction
	limit  int

	// RejectHeightFilter makes SearchTxs reject tx.height predicates.
	RejectHeightFilter bool
	// FailBlockTime makes BlockTime fail.
	FailBlockTime bool

	calls map[string]int
}

// Compile-time interface check.
var _ ledger.HeightSource = (*HeightLog)(nil)

// NewHeightLog creates a height log. Transactions are ordered by height.
func NewHeightLog(limit int, blocks []time.Time, txs ...ledger.Transaction) *HeightLog {
	sorted := append([]ledger.Transaction(nil), txs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Height < sorted[j].Height })
	return &HeightLog{blocks: blocks, txs: sorted, limit: limit, calls: make(map[string]int)}
}

// Calls returns how often op was invoked.
func (l *HeightLog) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// LatestHeight implements ledger.HeightSource.
func (l *HeightLog) LatestHeight(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["latest_height"]++
	return int64(len(l.blocks)), nil
}

// BlockTime implements ledger.HeightSource.
func (l *HeightLog) BlockTime(_ context.Context, height int64) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["block_time"]++
	if l.FailBlockTime {
		return time.Time{}, ErrInjected
	}
	if height < 1 || height > int64(len(l.blocks)) {
		return time.Time{}, errors.New("height out of range")
	}
	return l.blocks[height-1], nil
}

// SearchTxs implements ledger.HeightSource. Only tx.height predicates are
// evaluated; other event predicates are accepted and ignored. Key is the
// decimal index of the next result.
func (l *HeightLog) SearchTxs(_ context.Context, q ledger.SearchQuery) (*ledger.SearchPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["search_txs"]++

	minH, maxH := int64(0), int64(1<<62)
	for _, ev := range q.Events {
		switch {
		case strings.HasPrefix(ev, "tx.height>="):
			if l.RejectHeightFilter {
				return nil, &ledger.EndpointIncompatibilityError{Endpoint: "stub", Op: "search_txs", StatusCode: 400, Body: ev}
			}
			minH, _ = strconv.ParseInt(strings.TrimPrefix(ev, "tx.height>="), 10, 64)
		case strings.HasPrefix(ev, "tx.height<="):
			if l.RejectHeightFilter {
				return nil, &ledger.EndpointIncompatibilityError{Endpoint: "stub", Op: "search_txs", StatusCode: 400, Body: ev}
			}
			maxH, _ = strconv.ParseInt(strings.TrimPrefix(ev, "tx.height<="), 10, 64)
		}
	}

	var matched []ledger.Transaction
	for _, tx := range l.txs {
		if tx.Height >= minH && tx.Height <= maxH {
			matched = append(matched, tx)
		}
	}
	if q.Reverse {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	start := 0
	if q.Key != "" {
		start, _ = strconv.Atoi(q.Key)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = l.limit
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	page := &ledger.SearchPage{}
	if start < len(matched) {
		page.Transactions = append(page.Transactions, matched[start:end]...)
	}
	if end < len(matched) {
		page.NextKey = strconv.Itoa(end)
	}
	return page, nil
}
