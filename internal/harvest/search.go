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

// Query describes an event search.
type Query struct {
	Events       []string // event predicates, e.g. "wasm.action='deposit_stable'"
	Reverse      bool     // newest first
	HeightFilter bool     // narrow the search with tx.height bounds of the window
	Limit        int      // page size, endpoint default when zero
}

// SearchOptions contains configuration for creating a SearchHarvester.
type SearchOptions struct {
	Source      ledger.HeightSource
	Locator     *locator.HeightLocator // built from Source when nil
	Extractor   *extraction.Extractor
	Sink        storage.ActionSink
	Checkpoints storage.CheckpointStore
	Config      Config
	Logger      *zap.SugaredLogger
	Now         func() time.Time
}

// SearchHarvester harvests an event search over a height-indexed ledger.
type SearchHarvester struct {
	src     ledger.HeightSource
	locator *locator.HeightLocator
	cfg     Config
	page    pageHandler
	log     *zap.SugaredLogger
}

// NewSearchHarvester creates a harvester. Source, Sink and Checkpoints are
// required.
func NewSearchHarvester(opts SearchOptions) *SearchHarvester {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg := opts.Config.withDefaults()

	loc := opts.Locator
	if loc == nil {
		lcfg := locator.DefaultConfig()
		lcfg.ProbeDelay = cfg.PageDelay
		loc = locator.NewHeightLocator(opts.Source, lcfg, log)
	}

	return &SearchHarvester{
		src:     opts.Source,
		locator: loc,
		cfg:     cfg,
		page:    newPageHandler(opts.Extractor, opts.Sink, opts.Checkpoints, log, opts.Now),
		log:     log,
	}
}

// Run harvests the search results of q inside w.
func (h *SearchHarvester) Run(ctx context.Context, target Target, w domain.Window, q Query) (*Result, error) {
	began := time.Now()
	res := &Result{}
	defer func() { res.Duration = time.Since(began) }()

	log := h.log.With("label", target.Label)

	cp, err := h.loadCheckpoint(ctx, log, target, w)
	if err != nil {
		return res, err
	}

	useHeight := q.HeightFilter
	var from, to int64
	if useHeight {
		var ok bool
		if cp != nil {
			from, to, ok = cp.HeightBounds()
		}
		if ok {
			log.Infow("reusing checkpoint height bounds", "from", from, "to", to)
		} else if from, to, err = h.heightBounds(ctx, w); err != nil {
			log.Warnw("height lookup failed, falling back to time filter only", "error", err)
			useHeight = false
			res.FilterFallback = true
		}
	}

	var key string
	basePages := 0
	switch {
	case cp == nil:
	case cp.HeightFilter != useHeight:
		log.Infow("checkpoint was written with a different filter mode, starting over", "checkpoint_height_filter", cp.HeightFilter)
	default:
		key, basePages = cp.Cursor, cp.PagesProcessed
		res.Resumed = true
		log.Infow("resuming from checkpoint", "pages", cp.PagesProcessed)
	}

	rule := stopRule{beforeStart: q.Reverse, afterEnd: !q.Reverse}
	var oldest, newest time.Time
	done := false
	for !done && res.Pages < h.cfg.MaxPages {
		events := q.Events
		if useHeight {
			events = append(append([]string(nil), q.Events...), heightPredicates(from, to)...)
		}

		page, err := h.src.SearchTxs(ctx, ledger.SearchQuery{
			Events:  events,
			Reverse: q.Reverse,
			Limit:   q.Limit,
			Key:     key,
		})
		if err != nil {
			if useHeight && ledger.IsIncompatible(err) {
				log.Warnw("endpoint rejected height filter, restarting with time filter only", "error", err)
				useHeight = false
				res.FilterFallback = true
				key = ""
				basePages = 0
				continue
			}
			return res, fmt.Errorf("search page %d: %w", res.Pages+1, err)
		}
		res.Malformed += page.Malformed
		observability.RecordDropped(target.Label, "malformed", page.Malformed)

		if len(page.Transactions) == 0 && page.Malformed == 0 {
			break
		}
		// a page of undecodable records still advances the cursor
		if o, n, ok := page.Bounds(); ok {
			oldest, newest = o, n
		}

		pa := h.page.filterPage(w, page.Transactions, rule)
		next := &domain.Checkpoint{
			Account:        target.Account,
			Label:          target.Label,
			Cursor:         page.NextKey,
			HeightFilter:   useHeight,
			WindowStart:    w.Start,
			WindowEnd:      w.End,
			PagesProcessed: basePages + res.Pages + 1,
			OldestSeen:     oldest,
			NewestSeen:     newest,
		}
		if useHeight {
			next.HeightFrom, next.HeightTo = from, to
		}
		if err := h.page.commit(ctx, target, pa, next, res); err != nil {
			return res, err
		}
		res.Pages++
		observability.RecordPage(target.Label, StateHarvesting.String())
		if res.Pages%h.cfg.ProgressEvery == 0 {
			log.Infow("processed pages", "pages", res.Pages, "actions", res.Actions)
		}

		if pa.stop || page.NextKey == "" {
			done = true
			break
		}
		key = page.NextKey
		if err := wait(ctx, h.cfg.PageDelay); err != nil {
			return res, err
		}
	}

	res.HeightFilter = useHeight
	if !done && res.Pages >= h.cfg.MaxPages {
		res.Capped = true
		log.Warnw("page cap reached before the search was exhausted", "max_pages", h.cfg.MaxPages)
	}
	log.Infow("search harvest complete",
		"pages", res.Pages,
		"transactions", res.Transactions,
		"actions", res.Actions,
		"dropped_segments", res.DroppedSegments,
		"dropped_walletless", res.DroppedWalletless,
		"height_filter", res.HeightFilter,
		"resumed", res.Resumed,
		"capped", res.Capped,
	)
	return res, nil
}

// heightBounds maps the window onto a block height range.
func (h *SearchHarvester) heightBounds(ctx context.Context, w domain.Window) (int64, int64, error) {
	from, err := h.locator.AtOrAfter(ctx, w.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("height at window start: %w", err)
	}
	to, err := h.locator.AtOrBefore(ctx, w.End)
	if err != nil {
		return 0, 0, fmt.Errorf("height at window end: %w", err)
	}
	return from, to, nil
}

func heightPredicates(from, to int64) []string {
	return []string{
		"tx.height>=" + strconv.FormatInt(from, 10),
		"tx.height<=" + strconv.FormatInt(to, 10),
	}
}

// loadCheckpoint returns the checkpoint to continue from, or nil when there
// is none for this window or it holds no continuation.
func (h *SearchHarvester) loadCheckpoint(ctx context.Context, log *zap.SugaredLogger, target Target, w domain.Window) (*domain.Checkpoint, error) {
	cp, err := h.page.checkpoints.Load(ctx, target.Account, target.Label)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	case !cp.Matches(w):
		log.Infow("checkpoint is for another window, starting over", "checkpoint_window", cp.Window().String())
		return nil, nil
	case cp.Cursor == "":
		return nil, nil
	}
	return cp, nil
}
