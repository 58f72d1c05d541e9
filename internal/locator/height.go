package locator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"anchor-flow-lab/internal/ledger"
	"anchor-flow-lab/internal/observability"
)

// HeightLocator maps timestamps to block heights by binary search over
// block times in [1, latest].
type HeightLocator struct {
	src ledger.HeightSource
	cfg Config
	log *zap.SugaredLogger
}

// NewHeightLocator creates a locator over src. Only ProbeDelay and
// MaxProbes of cfg apply.
func NewHeightLocator(src ledger.HeightSource, cfg Config, log *zap.SugaredLogger) *HeightLocator {
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = DefaultMaxProbes
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HeightLocator{src: src, cfg: cfg, log: log}
}

// AtOrAfter returns the smallest height whose block time is >= t, or the
// latest height when no block is that recent.
func (l *HeightLocator) AtOrAfter(ctx context.Context, t time.Time) (int64, error) {
	latest, err := l.src.LatestHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest height: %w", err)
	}
	best := latest
	err = l.search(ctx, latest, func(h int64, bt time.Time) bool {
		if !bt.Before(t) {
			best = h
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	l.log.Debugw("height at or after", "time", t, "height", best)
	return best, nil
}

// AtOrBefore returns the largest height whose block time is <= t, or 1
// when every block is newer.
func (l *HeightLocator) AtOrBefore(ctx context.Context, t time.Time) (int64, error) {
	latest, err := l.src.LatestHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest height: %w", err)
	}
	best := int64(1)
	err = l.search(ctx, latest, func(h int64, bt time.Time) bool {
		if !bt.After(t) {
			best = h
			return true
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	l.log.Debugw("height at or before", "time", t, "height", best)
	return best, nil
}

// search bisects [1, latest]; visit reports whether to continue above mid.
func (l *HeightLocator) search(ctx context.Context, latest int64, visit func(h int64, bt time.Time) bool) error {
	lo, hi := int64(1), latest
	for probes := 0; lo <= hi && probes < l.cfg.MaxProbes; probes++ {
		if probes > 0 {
			if err := wait(ctx, l.cfg.ProbeDelay); err != nil {
				return err
			}
		}
		mid := lo + (hi-lo)/2
		observability.RecordSeekProbe("height")
		bt, err := l.src.BlockTime(ctx, mid)
		if err != nil {
			return fmt.Errorf("block time at %d: %w", mid, err)
		}
		if visit(mid, bt) {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return nil
}
