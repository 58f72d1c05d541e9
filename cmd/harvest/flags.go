package main

import (
	"github.com/urfave/cli/v2"

	"anchor-flow-lab/internal/aggregate"
	"anchor-flow-lab/internal/harvest"
	"anchor-flow-lab/internal/ledger"
	"anchor-flow-lab/internal/locator"
)

const (
	defaultFCDURL        = "https://terra-classic-fcd.publicnode.com"
	defaultLCDURL        = "https://terra-classic-lcd.publicnode.com"
	defaultRPCURL        = "https://terra-classic-rpc.publicnode.com"
	defaultFCDLimit      = 100
	defaultLCDPageLimit  = 100
	defaultLCDMaxPages   = 2000
	defaultRawPath       = "data/interim/actions_raw.csv"
	defaultOutputDir     = "data/raw"
	defaultCheckpointDir = "data/interim"
)

// globalFlags are shared by every command.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Prometheus metrics HTTP address (empty to disable)",
			EnvVars: []string{"METRICS_ADDR"},
		},
	}
}

// windowFlags select the harvest window and the output locations.
func windowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "window-start",
			Aliases:  []string{"s"},
			Usage:    "Window start, RFC3339 or 2006-01-02T15:04:05 (UTC), on an hour boundary",
			EnvVars:  []string{"WINDOW_START"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "window-end",
			Aliases:  []string{"e"},
			Usage:    "Window end (inclusive), RFC3339 or 2006-01-02T15:04:05 (UTC)",
			EnvVars:  []string{"WINDOW_END"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "raw-path",
			Usage:   "Raw action log CSV",
			EnvVars: []string{"TERRA_FCD_RAW_PATH"},
			Value:   defaultRawPath,
		},
		&cli.StringFlag{
			Name:    "output-dir",
			Usage:   "Directory for the hourly flow CSV files",
			EnvVars: []string{"RAW_DIR"},
			Value:   defaultOutputDir,
		},
		&cli.IntFlag{
			Name:    "aggregate-chunk",
			Usage:   "Actions read per aggregation chunk",
			EnvVars: []string{"AGGREGATE_CHUNK_ROWS"},
			Value:   aggregate.DefaultChunkSize,
		},
		&cli.StringFlag{
			Name:    "clickhouse-dsn",
			Usage:   "ClickHouse DSN; mirrors actions and hourly flows when set",
			EnvVars: []string{"CLICKHOUSE_DSN"},
		},
	}
}

// harvestFlags are shared by the fcd and lcd commands.
func harvestFlags() []cli.Flag {
	return append(windowFlags(),
		&cli.StringFlag{
			Name:    "market-contract",
			Usage:   "Money market contract address",
			EnvVars: []string{"ANCHOR_MARKET_CONTRACT"},
		},
		&cli.StringFlag{
			Name:    "aust-contract",
			Usage:   "aUST token contract address",
			EnvVars: []string{"AUST_CONTRACT"},
		},
		&cli.BoolFlag{
			Name:    "include-aust",
			Usage:   "Also harvest the aUST contract",
			EnvVars: []string{"TERRA_INCLUDE_AUST"},
		},
		&cli.Float64Flag{
			Name:    "request-timeout",
			Usage:   "Per-request HTTP timeout in seconds",
			EnvVars: []string{"TERRA_REQUEST_TIMEOUT"},
			Value:   ledger.DefaultTimeout.Seconds(),
		},
		&cli.Float64Flag{
			Name:    "poll",
			Usage:   "Delay between ledger requests in seconds",
			EnvVars: []string{"TERRA_POLL_SECONDS"},
			Value:   harvest.DefaultPageDelay.Seconds(),
		},
		&cli.BoolFlag{
			Name:    "only-aggregate",
			Usage:   "Skip harvesting and re-aggregate the existing action log",
			EnvVars: []string{"TERRA_FCD_ONLY_AGGREGATE"},
		},
		&cli.StringFlag{
			Name:    "postgres-dsn",
			Usage:   "PostgreSQL DSN for checkpoints (files under --checkpoint-dir when empty)",
			EnvVars: []string{"POSTGRES_DSN"},
		},
		&cli.StringFlag{
			Name:    "checkpoint-dir",
			Usage:   "Directory for checkpoint files",
			EnvVars: []string{"TERRA_FCD_CHECKPOINT_DIR"},
			Value:   defaultCheckpointDir,
		},
	)
}

func fcdFlags() []cli.Flag {
	return append(harvestFlags(),
		&cli.StringSliceFlag{
			Name:    "fcd-url",
			Usage:   "FCD base URL, repeatable; tried in order",
			EnvVars: []string{"TERRA_FCD_URL"},
			Value:   cli.NewStringSlice(defaultFCDURL),
		},
		&cli.IntFlag{
			Name:    "limit",
			Usage:   "Transactions per page",
			EnvVars: []string{"TERRA_FCD_LIMIT"},
			Value:   defaultFCDLimit,
		},
		&cli.IntFlag{
			Name:    "max-pages",
			Usage:   "Page cap per target",
			EnvVars: []string{"TERRA_FCD_MAX_PAGES"},
			Value:   harvest.DefaultMaxPages,
		},
		&cli.IntFlag{
			Name:    "max-seek-pages",
			Usage:   "Probe cap for the binary seek",
			EnvVars: []string{"TERRA_FCD_MAX_SEEK_PAGES"},
			Value:   locator.DefaultMaxProbes,
		},
		&cli.IntFlag{
			Name:    "retries",
			Usage:   "Attempts per request",
			EnvVars: []string{"TERRA_FCD_RETRIES"},
			Value:   ledger.DefaultMaxAttempts,
		},
		&cli.Float64Flag{
			Name:    "backoff",
			Usage:   "Base backoff in seconds; attempt n waits backoff*n",
			EnvVars: []string{"TERRA_FCD_BACKOFF"},
			Value:   ledger.DefaultBackoff.Seconds(),
		},
		&cli.Int64Flag{
			Name:    "start-offset",
			Usage:   "Start from this offset, skipping checkpoint and seek",
			EnvVars: []string{"TERRA_FCD_START_OFFSET"},
		},
		&cli.StringFlag{
			Name:    "ordering",
			Usage:   "Offset ordering: auto, newer-at-higher or newer-at-lower",
			EnvVars: []string{"TERRA_FCD_ORDERING"},
			Value:   locator.OrderingAuto.String(),
		},
	)
}

func lcdFlags() []cli.Flag {
	return append(harvestFlags(),
		&cli.StringSliceFlag{
			Name:    "lcd-url",
			Usage:   "LCD base URL, repeatable; the public default is appended",
			EnvVars: []string{"TERRA_LCD_URL"},
		},
		&cli.StringSliceFlag{
			Name:    "rpc-url",
			Usage:   "Tendermint RPC base URL, repeatable; the public default is appended",
			EnvVars: []string{"TERRA_RPC_URL"},
		},
		&cli.IntFlag{
			Name:    "page-limit",
			Usage:   "Search results per page",
			EnvVars: []string{"TERRA_PAGE_LIMIT"},
			Value:   defaultLCDPageLimit,
		},
		&cli.IntFlag{
			Name:    "max-pages",
			Usage:   "Page cap per search",
			EnvVars: []string{"TERRA_MAX_PAGES"},
			Value:   defaultLCDMaxPages,
		},
		&cli.IntFlag{
			Name:    "retries",
			Usage:   "Attempts per request",
			EnvVars: []string{"TERRA_RETRIES"},
			Value:   ledger.DefaultMaxAttempts,
		},
		&cli.Float64Flag{
			Name:    "backoff",
			Usage:   "Base backoff in seconds; attempt n waits backoff*n",
			EnvVars: []string{"TERRA_BACKOFF"},
			Value:   ledger.DefaultBackoff.Seconds(),
		},
		&cli.BoolFlag{
			Name:    "height-filter",
			Usage:   "Narrow searches with block height bounds of the window",
			EnvVars: []string{"TERRA_HEIGHT_FILTER"},
			Value:   true,
		},
		&cli.BoolFlag{
			Name:    "reverse",
			Usage:   "Search newest first",
			EnvVars: []string{"TERRA_REVERSE"},
		},
	)
}
