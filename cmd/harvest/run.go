package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"anchor-flow-lab/internal/aggregate"
	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/extraction"
	"anchor-flow-lab/internal/harvest"
	"anchor-flow-lab/internal/ledger"
	"anchor-flow-lab/internal/locator"
	"anchor-flow-lab/internal/observability"
	"anchor-flow-lab/internal/storage"
	chstore "anchor-flow-lab/internal/storage/clickhouse"
	"anchor-flow-lab/internal/storage/file"
	"anchor-flow-lab/internal/storage/migrations"
	pgstore "anchor-flow-lab/internal/storage/postgres"
)

// session owns the stores opened for one command.
type session struct {
	cfg         *Config
	log         *zap.SugaredLogger
	checkpoints storage.CheckpointStore
	sink        storage.ActionSink
	actions     storage.ActionReader // aggregation source; the CSV raw log when nil
	flows       []storage.FlowStore
	closers     []func()
}

func (s *session) close() {
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.log.Warnw("close action sink", "error", err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func runFCD(c *cli.Context) error {
	cfg, err := buildFCDConfig(c)
	if err != nil {
		return err
	}
	return execute(c.Context, cfg, "fcd_checkpoint", func(ctx context.Context, s *session) error {
		opt := ledger.WithTransportConfig(cfg.Transport)
		clients := make([]ledger.OffsetSource, 0, len(cfg.FCDURLs))
		for _, u := range cfg.FCDURLs {
			clients = append(clients, ledger.NewFCDClient(u, cfg.PageLimit, opt))
		}
		source := ledger.NewFailoverOffsetSource(s.log, clients...)
		extractor := extraction.New(extraction.DefaultConfig())

		for _, target := range cfg.Targets() {
			s.log.Infow("fetching transactions", "label", target.Label, "account", target.Account)
			h := harvest.NewOffsetHarvester(harvest.OffsetOptions{
				Source:      source,
				Locator:     locator.NewOffsetLocator(source, cfg.Locator, s.log),
				Extractor:   extractor,
				Sink:        s.sink,
				Checkpoints: s.checkpoints,
				Config:      cfg.Harvest,
				StartOffset: cfg.StartOffset,
				Logger:      s.log,
			})
			if _, err := h.Run(ctx, target, cfg.Window); err != nil {
				return fmt.Errorf("harvest %s: %w", target.Label, err)
			}
		}
		return nil
	})
}

// searchVerbs are searched one at a time so that each search extracts only
// the verb it asked for.
var searchVerbs = []struct {
	verb string
	kind domain.ActionKind
}{
	{"deposit_stable", domain.ActionDeposit},
	{"redeem_stable", domain.ActionRedeem},
}

func runLCD(c *cli.Context) error {
	cfg, err := buildLCDConfig(c)
	if err != nil {
		return err
	}
	return execute(c.Context, cfg, "lcd_checkpoint", func(ctx context.Context, s *session) error {
		opt := ledger.WithTransportConfig(cfg.Transport)
		var sources []ledger.HeightSource
		for _, u := range cfg.LCDURLs {
			sources = append(sources, ledger.NewLCDClient(u, cfg.PageLimit, opt))
		}
		for _, u := range cfg.RPCURLs {
			sources = append(sources, ledger.NewTendermintClient(u, opt))
		}
		source := ledger.NewFailoverHeightSource(s.log, sources...)
		heights := locator.NewHeightLocator(source, cfg.Locator, s.log)

		for _, target := range cfg.Targets() {
			for _, sv := range searchVerbs {
				exCfg := extraction.DefaultConfig()
				exCfg.Verbs = map[string]domain.ActionKind{sv.verb: sv.kind}
				exCfg.FundsFallback = true

				h := harvest.NewSearchHarvester(harvest.SearchOptions{
					Source:      source,
					Locator:     heights,
					Extractor:   extraction.New(exCfg),
					Sink:        s.sink,
					Checkpoints: s.checkpoints,
					Config:      cfg.Harvest,
					Logger:      s.log,
				})
				q := harvest.Query{
					Events: []string{
						fmt.Sprintf("wasm._contract_address='%s'", target.Account),
						fmt.Sprintf("wasm.action='%s'", sv.verb),
					},
					Reverse:      cfg.Reverse,
					HeightFilter: cfg.HeightFilter,
					Limit:        cfg.PageLimit,
				}
				t := harvest.Target{Account: target.Account, Label: target.Label + "_" + string(sv.kind)}

				s.log.Infow("searching transactions", "label", t.Label, "verb", sv.verb)
				if _, err := h.Run(ctx, t, cfg.Window, q); err != nil {
					return fmt.Errorf("search %s: %w", t.Label, err)
				}
			}
		}
		return nil
	})
}

func runAggregate(c *cli.Context) error {
	cfg, err := buildWindowConfig(c)
	if err != nil {
		return err
	}
	cfg.OnlyAggregate = true
	return execute(c.Context, cfg, "", func(context.Context, *session) error { return nil })
}

// execute opens the stores, runs harvest (unless only aggregating), then
// aggregates the action log. The metrics server, when configured, runs
// alongside and stops with the work.
func execute(parent context.Context, cfg *Config, checkpointPrefix string, harvestFn func(context.Context, *session) error) error {
	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Desugar().Sync() //nolint:errcheck // best-effort flush

	log.Infow("config",
		"window", cfg.Window.String(),
		"market", cfg.MarketContract,
		"includeAUST", cfg.IncludeAUST,
		"onlyAggregate", cfg.OnlyAggregate,
		"rawPath", cfg.RawPath,
		"outputDir", cfg.OutputDir,
		"checkpointDir", cfg.CheckpointDir,
		"postgres", cfg.PostgresDSN != "",
		"clickhouse", cfg.ClickHouseDSN != "",
		"metricsAddr", cfg.MetricsAddr,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	workCtx, workDone := context.WithCancel(gctx)
	defer workDone()

	if cfg.MetricsAddr != "" {
		srv := observability.NewServer(cfg.MetricsAddr)
		log.Infow("metrics server listening", "addr", cfg.MetricsAddr)
		g.Go(func() error { return srv.Run(workCtx) })
	}

	g.Go(func() error {
		defer workDone()

		s, err := openSession(gctx, cfg, log, checkpointPrefix)
		if err != nil {
			return err
		}
		defer s.close()

		if !cfg.OnlyAggregate {
			if err := harvestFn(gctx, s); err != nil {
				return err
			}
			if err := s.sink.Close(); err != nil {
				return fmt.Errorf("close action sink: %w", err)
			}
		}
		return aggregateLog(gctx, s)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Infow("interrupted; the next run resumes from the last checkpoint")
		return nil
	}
	if err != nil {
		log.Errorw("run failed", "error", err)
		return err
	}
	return nil
}

// openSession opens checkpoint storage and sinks. Harvest-only resources are
// skipped when only aggregating.
func openSession(ctx context.Context, cfg *Config, log *zap.SugaredLogger, checkpointPrefix string) (*session, error) {
	s := &session{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	var chSink storage.ActionSink
	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN, log)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		s.closers = append(s.closers, func() { conn.Close() })
		chActions := chstore.NewActionSink(conn)
		chSink = chActions
		s.actions = chActions
		s.flows = append(s.flows, chstore.NewFlowStore(conn))
	}

	flowWriter, err := file.NewFlowWriter(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	s.flows = append([]storage.FlowStore{flowWriter}, s.flows...)

	if cfg.OnlyAggregate {
		ok = true
		return s, nil
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool, log); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		s.checkpoints = pgstore.NewCheckpointStore(pool)
	} else {
		cps, err := file.NewCheckpointStore(cfg.CheckpointDir, checkpointPrefix)
		if err != nil {
			return nil, err
		}
		s.checkpoints = cps
	}

	csvSink, err := file.OpenCSVSink(cfg.RawPath)
	if err != nil {
		return nil, err
	}
	s.sink = storage.NewMultiSink(csvSink, chSink)

	ok = true
	return s, nil
}

// aggregateLog writes hourly flows from the raw action log, which is the
// ClickHouse actions table when configured and the CSV log otherwise. A log
// without in-window actions is reported and is not an error.
func aggregateLog(ctx context.Context, s *session) error {
	reader := s.actions
	var csv *file.ActionLogReader
	if reader == nil {
		csv = file.NewActionLogReader(s.cfg.RawPath, extraction.DefaultConfig().Verbs)
		reader = csv
	}
	agg := aggregate.NewAggregator(reader, s.cfg.AggregateChunk, s.log, s.flows...)

	if _, err := agg.Run(ctx, s.cfg.Window); err != nil {
		if errors.Is(err, aggregate.ErrNoActions) {
			return nil
		}
		return err
	}
	if csv == nil {
		s.log.Infow("aggregated from the clickhouse actions table")
	} else if skipped := csv.Skipped(); skipped > 0 {
		s.log.Warnw("skipped unreadable action log rows", "rows", skipped)
	}
	s.log.Infow("saved hourly flows",
		"deposits", filepath.Join(s.cfg.OutputDir, file.DepositsFile),
		"redeems", filepath.Join(s.cfg.OutputDir, file.RedeemsFile),
	)
	return nil
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to create development logger: %w", err)
		}
		return l.Sugar(), nil
	}

	l, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to create production logger: %w", err)
	}
	return l.Sugar(), nil
}
