// Package locator finds where a time window begins inside a paginated
// ledger using binary search, so harvesting does not walk the whole log.
package locator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"anchor-flow-lab/internal/ledger"
	"anchor-flow-lab/internal/observability"
)

// DefaultMaxProbes bounds the number of pages fetched by one seek.
const DefaultMaxProbes = 5000

// Ordering describes how offsets relate to transaction age.
type Ordering int

const (
	// OrderingAuto detects the ordering by probing two pages.
	OrderingAuto Ordering = iota
	// NewerAtHigherOffset is the FCD convention: offsets are row ids.
	NewerAtHigherOffset
	// NewerAtLowerOffset is the skip-count convention: offset 0 is newest.
	NewerAtLowerOffset
)

func (o Ordering) String() string {
	switch o {
	case NewerAtHigherOffset:
		return "newer-at-higher"
	case NewerAtLowerOffset:
		return "newer-at-lower"
	default:
		return "auto"
	}
}

// ParseOrdering parses "auto", "newer-at-higher" or "newer-at-lower".
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return OrderingAuto, nil
	case "newer-at-higher", "higher":
		return NewerAtHigherOffset, nil
	case "newer-at-lower", "lower":
		return NewerAtLowerOffset, nil
	}
	return OrderingAuto, fmt.Errorf("unknown offset ordering %q", s)
}

// Config controls a seek.
type Config struct {
	MaxProbes  int
	ProbeDelay time.Duration
	Ordering   Ordering
}

// DefaultConfig returns the settings used by the CLI.
func DefaultConfig() Config {
	return Config{
		MaxProbes:  DefaultMaxProbes,
		ProbeDelay: 200 * time.Millisecond,
		Ordering:   OrderingAuto,
	}
}

// OffsetLocator finds the offset of the first page at or before a window
// end in an offset-paginated, newest-first log.
type OffsetLocator struct {
	src ledger.OffsetSource
	cfg Config
	log *zap.SugaredLogger
}

// NewOffsetLocator creates a locator over src.
func NewOffsetLocator(src ledger.OffsetSource, cfg Config, log *zap.SugaredLogger) *OffsetLocator {
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = DefaultMaxProbes
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &OffsetLocator{src: src, cfg: cfg, log: log}
}

// Locate returns the offset whose page starts with the newest transaction
// at or before windowEnd. found is false when every probed page is newer
// than windowEnd or the log is empty. probes counts page fetches.
func (l *OffsetLocator) Locate(ctx context.Context, account string, windowEnd time.Time) (offset int64, found bool, probes int, err error) {
	latest, ok, err := l.src.LatestPosition(ctx, account)
	if err != nil {
		return 0, false, 0, fmt.Errorf("latest position: %w", err)
	}
	if !ok {
		l.log.Infow("account has no transactions", "account", account)
		return 0, false, 0, nil
	}

	ordering := l.cfg.Ordering
	if ordering == OrderingAuto {
		ordering, probes, err = l.detectOrdering(ctx, account, latest)
		if err != nil {
			return 0, false, probes, err
		}
	}

	lo, hi := int64(0), latest
	best := int64(-1)
	for lo <= hi && probes < l.cfg.MaxProbes {
		mid := lo + (hi-lo)/2

		if probes > 0 {
			if err := wait(ctx, l.cfg.ProbeDelay); err != nil {
				return 0, false, probes, err
			}
		}
		page, err := l.probe(ctx, account, mid)
		probes++
		if err != nil {
			return 0, false, probes, fmt.Errorf("probe offset %d: %w", mid, err)
		}

		_, newest, ok := page.Bounds()
		towardNewer := !ok || !newest.After(windowEnd)
		if ok && towardNewer {
			best = mid
		}

		if towardNewer == (ordering == NewerAtHigherOffset) {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	if lo <= hi {
		l.log.Warnw("seek probe budget exhausted", "account", account, "probes", probes, "best", best)
	}
	if best < 0 {
		return 0, false, probes, nil
	}
	l.log.Infow("located window end", "account", account, "offset", best, "probes", probes, "ordering", ordering.String())
	return best, true, probes, nil
}

// detectOrdering compares the newest timestamps of the pages at latest and
// latest/2. Inconclusive probes fall back to NewerAtHigherOffset.
func (l *OffsetLocator) detectOrdering(ctx context.Context, account string, latest int64) (Ordering, int, error) {
	high, err := l.probe(ctx, account, latest)
	if err != nil {
		return OrderingAuto, 1, fmt.Errorf("ordering probe: %w", err)
	}
	if err := wait(ctx, l.cfg.ProbeDelay); err != nil {
		return OrderingAuto, 1, err
	}
	low, err := l.probe(ctx, account, latest/2)
	if err != nil {
		return OrderingAuto, 2, fmt.Errorf("ordering probe: %w", err)
	}

	_, highNewest, okHigh := high.Bounds()
	_, lowNewest, okLow := low.Bounds()
	if !okHigh || !okLow {
		l.log.Infow("offset ordering inconclusive, assuming newer at higher offsets", "account", account)
		return NewerAtHigherOffset, 2, nil
	}
	if lowNewest.After(highNewest) {
		return NewerAtLowerOffset, 2, nil
	}
	return NewerAtHigherOffset, 2, nil
}

func (l *OffsetLocator) probe(ctx context.Context, account string, offset int64) (*ledger.Page, error) {
	observability.RecordSeekProbe("offset")
	return l.src.FetchPage(ctx, account, &offset)
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
