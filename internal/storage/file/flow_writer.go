package file

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

// Hourly output files and their amount columns.
const (
	DepositsFile  = "anchor_deposits_hourly.csv"
	RedeemsFile   = "anchor_redeems_hourly.csv"
	InflowColumn  = "ust_inflow"
	OutflowColumn = "ust_outflow"
)

// FlowWriter writes hourly flows as CSV files in a directory, one file per
// action kind. Each InsertFlows call replaces the file for that kind.
type FlowWriter struct {
	dir string
}

// Compile-time interface check.
var _ storage.FlowStore = (*FlowWriter)(nil)

// NewFlowWriter creates dir if needed.
func NewFlowWriter(dir string) (*FlowWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FlowWriter{dir: dir}, nil
}

// Path returns the output file for kind.
func (w *FlowWriter) Path(kind domain.ActionKind) string {
	name, _ := flowLayout(kind)
	return filepath.Join(w.dir, name)
}

// InsertFlows implements storage.FlowStore. Flows are written in the given
// order.
func (w *FlowWriter) InsertFlows(_ context.Context, kind domain.ActionKind, flows []domain.HourlyFlow) error {
	name, column := flowLayout(kind)
	if name == "" {
		return storage.ErrInvalidInput
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{"hour", "wallet", column}); err != nil {
		return err
	}
	for _, f := range flows {
		if err := cw.Write([]string{f.Hour.UTC().Format(time.RFC3339), f.Wallet, f.Amount.String()}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return writeFileAtomic(filepath.Join(w.dir, name), buf.Bytes())
}

func flowLayout(kind domain.ActionKind) (file, column string) {
	switch kind {
	case domain.ActionDeposit:
		return DepositsFile, InflowColumn
	case domain.ActionRedeem:
		return RedeemsFile, OutflowColumn
	}
	return "", ""
}
