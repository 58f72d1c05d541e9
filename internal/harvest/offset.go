package harvest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/extraction"
	"anchor-flow-lab/internal/ledger"
	"anchor-flow-lab/internal/locator"
	"anchor-flow-lab/internal/observability"
	"anchor-flow-lab/internal/storage"
)

// OffsetOptions contains configuration for creating an OffsetHarvester.
type OffsetOptions struct {
	Source      ledger.OffsetSource
	Locator     *locator.OffsetLocator // built from Source with default settings when nil
	Extractor   *extraction.Extractor  // default extraction config when nil
	Sink        storage.ActionSink
	Checkpoints storage.CheckpointStore
	Config      Config

	// StartOffset skips checkpoint and seek when set.
	StartOffset *int64

	Logger *zap.SugaredLogger
	Now    func() time.Time
}

// OffsetHarvester harvests an offset-paginated, newest-first transaction
// listing.
type OffsetHarvester struct {
	src         ledger.OffsetSource
	locator     *locator.OffsetLocator
	startOffset *int64
	cfg         Config
	page        pageHandler
	log         *zap.SugaredLogger
}

// NewOffsetHarvester creates a harvester. Source, Sink and Checkpoints are
// required.
func NewOffsetHarvester(opts OffsetOptions) *OffsetHarvester {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg := opts.Config.withDefaults()

	loc := opts.Locator
	if loc == nil {
		lcfg := locator.DefaultConfig()
		lcfg.ProbeDelay = cfg.PageDelay
		loc = locator.NewOffsetLocator(opts.Source, lcfg, log)
	}

	return &OffsetHarvester{
		src:         opts.Source,
		locator:     loc,
		startOffset: opts.StartOffset,
		cfg:         cfg,
		page:        newPageHandler(opts.Extractor, opts.Sink, opts.Checkpoints, log, opts.Now),
		log:         log,
	}
}

func newPageHandler(ex *extraction.Extractor, sink storage.ActionSink, cps storage.CheckpointStore, log *zap.SugaredLogger, now func() time.Time) pageHandler {
	if ex == nil {
		ex = extraction.New(extraction.DefaultConfig())
	}
	if now == nil {
		now = time.Now
	}
	return pageHandler{extractor: ex, sink: sink, checkpoints: cps, log: log, now: now}
}

// Run harvests target inside w. On error the last saved checkpoint is left
// in place and a later Run resumes from it.
func (h *OffsetHarvester) Run(ctx context.Context, target Target, w domain.Window) (*Result, error) {
	began := time.Now()
	res := &Result{}
	defer func() { res.Duration = time.Since(began) }()

	log := h.log.With("label", target.Label, "account", target.Account)

	cursor, state, basePages, err := h.position(ctx, log, target, w, res)
	if err != nil {
		return res, err
	}

	var oldest, newest time.Time
	done := false
	for !done && res.Pages < h.cfg.MaxPages {
		page, err := h.src.FetchPage(ctx, target.Account, cursor)
		if err != nil {
			return res, fmt.Errorf("fetch page at offset %s: %w", formatOffset(cursor), err)
		}
		res.Malformed += page.Malformed
		observability.RecordDropped(target.Label, "malformed", page.Malformed)

		if len(page.Transactions) == 0 && page.Malformed == 0 {
			break
		}
		// a page of undecodable records still advances the cursor
		decoded := false
		if o, n, ok := page.Bounds(); ok {
			oldest, newest, decoded = o, n, true
		}

		if state == StateSeeking {
			if !decoded || oldest.After(w.End) {
				res.Pages++
				observability.RecordPage(target.Label, state.String())
				if res.Pages%h.cfg.ProgressEvery == 0 {
					log.Infow("seeking", "pages", res.Pages, "oldest", oldest)
				}
				if page.Next == nil {
					break
				}
				cursor = page.Next
				if err := wait(ctx, h.cfg.PageDelay); err != nil {
					return res, err
				}
				continue
			}
			state = StateHarvesting
			log.Infow("reached window", "offset", formatOffset(cursor), "newest", newest)
		}

		pa := h.page.filterPage(w, page.Transactions, stopRule{beforeStart: true})
		cp := &domain.Checkpoint{
			Account:        target.Account,
			Label:          target.Label,
			Cursor:         formatOffset(page.Next),
			WindowStart:    w.Start,
			WindowEnd:      w.End,
			PagesProcessed: basePages + res.Pages + 1,
			OldestSeen:     oldest,
			NewestSeen:     newest,
		}
		if err := h.page.commit(ctx, target, pa, cp, res); err != nil {
			return res, err
		}
		res.Pages++
		observability.RecordPage(target.Label, state.String())
		if res.Pages%h.cfg.ProgressEvery == 0 {
			log.Infow("processed pages", "pages", res.Pages, "actions", res.Actions, "oldest", oldest)
		}

		if pa.stop || page.Next == nil {
			done = true
			break
		}
		cursor = page.Next
		if err := wait(ctx, h.cfg.PageDelay); err != nil {
			return res, err
		}
	}

	if !done && res.Pages >= h.cfg.MaxPages {
		res.Capped = true
		log.Warnw("page cap reached before the window was exhausted", "max_pages", h.cfg.MaxPages)
	}
	log.Infow("harvest complete",
		"pages", res.Pages,
		"seek_probes", res.SeekProbes,
		"transactions", res.Transactions,
		"actions", res.Actions,
		"dropped_segments", res.DroppedSegments,
		"dropped_walletless", res.DroppedWalletless,
		"malformed", res.Malformed,
		"resumed", res.Resumed,
		"capped", res.Capped,
	)
	return res, nil
}

// position decides where the walk starts: manual offset, checkpoint, or
// binary seek, in that order.
func (h *OffsetHarvester) position(ctx context.Context, log *zap.SugaredLogger, target Target, w domain.Window, res *Result) (*int64, State, int, error) {
	if h.startOffset != nil {
		offset := *h.startOffset
		log.Infow("using configured start offset", "offset", offset)
		return &offset, StateHarvesting, 0, nil
	}

	cp, err := h.page.checkpoints.Load(ctx, target.Account, target.Label)
	switch {
	case err == nil && !cp.Matches(w):
		log.Infow("checkpoint is for another window, seeking", "checkpoint_window", cp.Window().String())
	case err == nil && cp.Cursor == "":
		log.Infow("checkpoint has no continuation, seeking")
	case err == nil:
		offset, perr := strconv.ParseInt(cp.Cursor, 10, 64)
		if perr != nil {
			log.Warnw("checkpoint cursor is not an offset, seeking", "cursor", cp.Cursor)
			break
		}
		res.Resumed = true
		log.Infow("resuming from checkpoint", "offset", offset, "pages", cp.PagesProcessed)
		return &offset, StateHarvesting, cp.PagesProcessed, nil
	case errors.Is(err, storage.ErrNotFound):
		// wrapped: a checkpoint exists but could not be decoded
		if err != storage.ErrNotFound {
			log.Infow("ignoring unreadable checkpoint", "error", err)
		}
	default:
		return nil, StateSeeking, 0, fmt.Errorf("load checkpoint: %w", err)
	}

	offset, found, probes, err := h.locator.Locate(ctx, target.Account, w.End)
	res.SeekProbes = probes
	if err != nil {
		return nil, StateSeeking, 0, fmt.Errorf("seek window end: %w", err)
	}
	if !found {
		log.Infow("seek found no page at or before window end, walking from newest", "probes", probes)
		return nil, StateSeeking, 0, nil
	}
	log.Infow("binary seek offset", "offset", offset, "probes", probes)
	return &offset, StateHarvesting, 0, nil
}

func formatOffset(offset *int64) string {
	if offset == nil {
		return ""
	}
	return strconv.FormatInt(*offset, 10)
}
