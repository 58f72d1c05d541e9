// Command harvest pulls money-market deposits and redemptions inside a time
// window from a Terra ledger endpoint, appends them to a raw action log and
// aggregates hourly inflow and outflow per wallet.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "harvest",
		Usage: "Harvest windowed ledger actions and aggregate hourly flows",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			{
				Name:   "fcd",
				Usage:  "Harvest the offset-paginated FCD transaction listing",
				Flags:  fcdFlags(),
				Action: runFCD,
			},
			{
				Name:   "lcd",
				Usage:  "Harvest LCD event searches, narrowed by block height",
				Flags:  lcdFlags(),
				Action: runLCD,
			},
			{
				Name:   "aggregate",
				Usage:  "Aggregate an existing action log into hourly flows",
				Flags:  windowFlags(),
				Action: runAggregate,
			},
		},
	}
}
