package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/harvest"
	"anchor-flow-lab/internal/ledger"
	"anchor-flow-lab/internal/locator"
)

// ErrConfiguration is returned for invalid or missing settings.
var ErrConfiguration = errors.New("configuration error")

// naiveLayout is accepted for window bounds without a zone; it is read as UTC.
const naiveLayout = "2006-01-02T15:04:05"

// Config holds all configuration for one command.
type Config struct {
	// Application settings
	Verbose     bool
	MetricsAddr string

	// Window and outputs
	Window         domain.Window
	RawPath        string
	OutputDir      string
	AggregateChunk int
	ClickHouseDSN  string

	// Targets
	MarketContract string
	AUSTContract   string
	IncludeAUST    bool
	OnlyAggregate  bool

	// Checkpoints
	PostgresDSN   string
	CheckpointDir string

	// Ledger settings
	Transport ledger.TransportConfig
	Harvest   harvest.Config
	Locator   locator.Config
	PageLimit int

	// FCD settings
	FCDURLs     []string
	StartOffset *int64

	// LCD settings
	LCDURLs      []string
	RPCURLs      []string
	HeightFilter bool
	Reverse      bool
}

// Targets returns the contracts to harvest in order.
func (c *Config) Targets() []harvest.Target {
	targets := []harvest.Target{{Account: c.MarketContract, Label: "market"}}
	if c.IncludeAUST {
		targets = append(targets, harvest.Target{Account: c.AUSTContract, Label: "aust"})
	}
	return targets
}

// buildWindowConfig builds the settings shared by every command.
func buildWindowConfig(c *cli.Context) (*Config, error) {
	start, err := parseWindowTime(c.String("window-start"))
	if err != nil {
		return nil, fmt.Errorf("%w: window-start: %v", ErrConfiguration, err)
	}
	end, err := parseWindowTime(c.String("window-end"))
	if err != nil {
		return nil, fmt.Errorf("%w: window-end: %v", ErrConfiguration, err)
	}
	window, err := domain.NewWindow(start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return &Config{
		Verbose:        c.Bool("verbose"),
		MetricsAddr:    c.String("metrics-addr"),
		Window:         window,
		RawPath:        c.String("raw-path"),
		OutputDir:      c.String("output-dir"),
		AggregateChunk: c.Int("aggregate-chunk"),
		ClickHouseDSN:  c.String("clickhouse-dsn"),
	}, nil
}

// buildHarvestConfig adds the settings shared by fcd and lcd.
func buildHarvestConfig(c *cli.Context) (*Config, error) {
	cfg, err := buildWindowConfig(c)
	if err != nil {
		return nil, err
	}

	cfg.MarketContract = strings.TrimSpace(c.String("market-contract"))
	cfg.AUSTContract = strings.TrimSpace(c.String("aust-contract"))
	cfg.IncludeAUST = c.Bool("include-aust")
	cfg.OnlyAggregate = c.Bool("only-aggregate")
	cfg.PostgresDSN = c.String("postgres-dsn")
	cfg.CheckpointDir = c.String("checkpoint-dir")

	if !cfg.OnlyAggregate {
		if cfg.MarketContract == "" {
			return nil, fmt.Errorf("%w: market-contract is required", ErrConfiguration)
		}
		if cfg.IncludeAUST && cfg.AUSTContract == "" {
			return nil, fmt.Errorf("%w: include-aust needs aust-contract", ErrConfiguration)
		}
	}

	pageDelay := seconds(c.Float64("poll"))
	cfg.Transport = ledger.TransportConfig{
		Timeout:     seconds(c.Float64("request-timeout")),
		MaxAttempts: c.Int("retries"),
		Backoff:     seconds(c.Float64("backoff")),
	}
	cfg.Harvest = harvest.Config{
		MaxPages:      c.Int("max-pages"),
		PageDelay:     pageDelay,
		ProgressEvery: harvest.DefaultProgressEvery,
	}
	cfg.Locator = locator.DefaultConfig()
	cfg.Locator.ProbeDelay = pageDelay
	return cfg, nil
}

// buildFCDConfig builds the fcd command configuration.
func buildFCDConfig(c *cli.Context) (*Config, error) {
	cfg, err := buildHarvestConfig(c)
	if err != nil {
		return nil, err
	}

	cfg.FCDURLs = cleanURLs(c.StringSlice("fcd-url"))
	if len(cfg.FCDURLs) == 0 {
		cfg.FCDURLs = []string{defaultFCDURL}
	}
	cfg.PageLimit = c.Int("limit")
	cfg.Locator.MaxProbes = c.Int("max-seek-pages")

	ordering, err := locator.ParseOrdering(c.String("ordering"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	cfg.Locator.Ordering = ordering

	if c.IsSet("start-offset") {
		offset := c.Int64("start-offset")
		if offset < 0 {
			return nil, fmt.Errorf("%w: start-offset must not be negative", ErrConfiguration)
		}
		cfg.StartOffset = &offset
	}
	return cfg, nil
}

// buildLCDConfig builds the lcd command configuration. The public endpoints
// are appended after any configured ones.
func buildLCDConfig(c *cli.Context) (*Config, error) {
	cfg, err := buildHarvestConfig(c)
	if err != nil {
		return nil, err
	}

	cfg.LCDURLs = appendDefault(cleanURLs(c.StringSlice("lcd-url")), defaultLCDURL)
	cfg.RPCURLs = appendDefault(cleanURLs(c.StringSlice("rpc-url")), defaultRPCURL)
	cfg.PageLimit = c.Int("page-limit")
	cfg.HeightFilter = c.Bool("height-filter")
	cfg.Reverse = c.Bool("reverse")
	return cfg, nil
}

// parseWindowTime accepts RFC3339 or a zone-less timestamp read as UTC.
func parseWindowTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.ParseInLocation(naiveLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
	}
	return ts, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// cleanURLs trims entries and splits comma-separated values.
func cleanURLs(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimRight(strings.TrimSpace(part), "/")
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func appendDefault(urls []string, def string) []string {
	for _, u := range urls {
		if u == def {
			return urls
		}
	}
	return append(urls, def)
}
