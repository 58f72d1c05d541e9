package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// FailoverHeightSource tries equivalent height sources in order; the first
// success wins. Each source is tried once per call.
type FailoverHeightSource struct {
	sources []HeightSource
	log     *zap.SugaredLogger
}

// Compile-time interface check.
var _ HeightSource = (*FailoverHeightSource)(nil)

// NewFailoverHeightSource composes sources in priority order.
func NewFailoverHeightSource(log *zap.SugaredLogger, sources ...HeightSource) *FailoverHeightSource {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FailoverHeightSource{sources: sources, log: log}
}

// LatestHeight implements HeightSource.
func (f *FailoverHeightSource) LatestHeight(ctx context.Context) (int64, error) {
	return firstSuccess(ctx, f.log, "latest_height", len(f.sources), func(i int) (int64, error) {
		return f.sources[i].LatestHeight(ctx)
	})
}

// BlockTime implements HeightSource.
func (f *FailoverHeightSource) BlockTime(ctx context.Context, height int64) (time.Time, error) {
	return firstSuccess(ctx, f.log, "block_time", len(f.sources), func(i int) (time.Time, error) {
		return f.sources[i].BlockTime(ctx, height)
	})
}

// SearchTxs implements HeightSource.
func (f *FailoverHeightSource) SearchTxs(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	return firstSuccess(ctx, f.log, "search_txs", len(f.sources), func(i int) (*SearchPage, error) {
		return f.sources[i].SearchTxs(ctx, q)
	})
}

// FailoverOffsetSource tries equivalent offset sources in order.
type FailoverOffsetSource struct {
	sources []OffsetSource
	log     *zap.SugaredLogger
}

// Compile-time interface check.
var _ OffsetSource = (*FailoverOffsetSource)(nil)

// NewFailoverOffsetSource composes sources in priority order.
func NewFailoverOffsetSource(log *zap.SugaredLogger, sources ...OffsetSource) *FailoverOffsetSource {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FailoverOffsetSource{sources: sources, log: log}
}

// FetchPage implements OffsetSource.
func (f *FailoverOffsetSource) FetchPage(ctx context.Context, account string, offset *int64) (*Page, error) {
	return firstSuccess(ctx, f.log, "fetch_page", len(f.sources), func(i int) (*Page, error) {
		return f.sources[i].FetchPage(ctx, account, offset)
	})
}

// LatestPosition implements OffsetSource.
func (f *FailoverOffsetSource) LatestPosition(ctx context.Context, account string) (int64, bool, error) {
	type position struct {
		offset int64
		ok     bool
	}
	p, err := firstSuccess(ctx, f.log, "latest_position", len(f.sources), func(i int) (position, error) {
		offset, ok, err := f.sources[i].LatestPosition(ctx, account)
		return position{offset, ok}, err
	})
	return p.offset, p.ok, err
}

// firstSuccess calls fn for each strategy index until one succeeds.
// Unsupported strategies are skipped. When every supporting strategy
// rejected the query as incompatible, that rejection is returned so callers
// can narrow the query; any other combination yields a *TransportError.
func firstSuccess[T any](ctx context.Context, log *zap.SugaredLogger, op string, n int, fn func(i int) (T, error)) (T, error) {
	var zero T
	var errs []error
	incompatible := 0
	var lastIncompat error

	for i := 0; i < n; i++ {
		v, err := fn(i)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		if IsIncompatible(err) {
			incompatible++
			lastIncompat = err
		}
		errs = append(errs, err)
		if i < n-1 {
			log.Warnw("ledger endpoint failed, trying next", "op", op, "strategy", i, "error", err)
		}
	}

	switch {
	case len(errs) == 0:
		return zero, fmt.Errorf("%s: %w", op, ErrUnsupported)
	case incompatible == len(errs):
		return zero, lastIncompat
	}
	return zero, &TransportError{
		Endpoint: "all endpoints",
		Op:       op,
		Attempts: len(errs),
		Err:      errors.Join(errs...),
	}
}
