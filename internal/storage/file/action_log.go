package file

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

// ActionLogHeader is the column layout of the raw action log.
var ActionLogHeader = []string{"hour", "wallet", "action", "amount", "txhash"}

// CSVSink appends actions to a CSV file. The header is written only when
// the file is new or empty, so resumed runs never repeat it.
type CSVSink struct {
	mu            sync.Mutex
	f             *os.File
	w             *csv.Writer
	headerWritten bool
}

// Compile-time interface check.
var _ storage.ActionSink = (*CSVSink)(nil)

// OpenCSVSink opens path for appending, creating parent directories.
func OpenCSVSink(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create action log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open action log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat action log: %w", err)
	}
	return &CSVSink{
		f:             f,
		w:             csv.NewWriter(f),
		headerWritten: info.Size() > 0,
	}, nil
}

// Append writes actions, flushes and fsyncs before returning.
func (s *CSVSink) Append(_ context.Context, actions []domain.Action) error {
	if len(actions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return storage.ErrClosed
	}
	if !s.headerWritten {
		if err := s.w.Write(ActionLogHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		s.headerWritten = true
	}
	for _, a := range actions {
		record := []string{
			a.Hour.UTC().Format(time.RFC3339),
			a.Wallet,
			a.Verb,
			a.Amount.String(),
			a.TxHash,
		}
		if err := s.w.Write(record); err != nil {
			return fmt.Errorf("write action: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush action log: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync action log: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := errors.Join(s.w.Error(), s.f.Close())
	s.f = nil
	return err
}

// ActionLogReader reads a CSV action log in bounded chunks. Verbs maps the
// action column back to an action kind; rows with unknown verbs, bad hours
// or bad amounts are skipped and counted.
type ActionLogReader struct {
	path    string
	verbs   map[string]domain.ActionKind
	skipped int
}

// Compile-time interface check.
var _ storage.ActionReader = (*ActionLogReader)(nil)

// NewActionLogReader creates a reader for path.
func NewActionLogReader(path string, verbs map[string]domain.ActionKind) *ActionLogReader {
	return &ActionLogReader{path: path, verbs: verbs}
}

// Skipped returns the number of rows skipped by the last ReadChunks call.
func (r *ActionLogReader) Skipped() int {
	return r.skipped
}

// ReadChunks implements storage.ActionReader.
func (r *ActionLogReader) ReadChunks(ctx context.Context, size int, fn func([]domain.Action) error) error {
	if size <= 0 {
		return storage.ErrInvalidInput
	}
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("open action log: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	r.skipped = 0
	cols := columnIndex(ActionLogHeader)
	chunk := make([]domain.Action, 0, size)
	first := true

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read action log: %w", err)
		}
		if first {
			first = false
			if len(record) > 0 && record[0] == ActionLogHeader[0] {
				cols = columnIndex(record)
				continue
			}
		}

		action, ok := r.parse(record, cols)
		if !ok {
			r.skipped++
			continue
		}
		chunk = append(chunk, action)
		if len(chunk) == size {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = make([]domain.Action, 0, size)
		}
	}
	if len(chunk) > 0 {
		return fn(chunk)
	}
	return nil
}

func (r *ActionLogReader) parse(record []string, cols map[string]int) (domain.Action, bool) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	kind, ok := r.verbs[field("action")]
	if !ok {
		return domain.Action{}, false
	}
	hour, err := time.Parse(time.RFC3339, field("hour"))
	if err != nil {
		return domain.Action{}, false
	}
	amount, err := decimal.NewFromString(field("amount"))
	if err != nil {
		return domain.Action{}, false
	}
	wallet := field("wallet")
	if wallet == "" {
		return domain.Action{}, false
	}
	return domain.Action{
		Hour:   hour.UTC(),
		Wallet: wallet,
		Kind:   kind,
		Verb:   field("action"),
		Amount: amount,
		TxHash: field("txhash"),
	}, true
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	return cols
}
