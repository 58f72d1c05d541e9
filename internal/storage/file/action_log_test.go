package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
)

var testVerbs = map[string]domain.ActionKind{
	"deposit_stable": domain.ActionDeposit,
	"redeem_stable":  domain.ActionRedeem,
}

func action(hour int, wallet, verb, amount string) domain.Action {
	return domain.Action{
		Hour:   time.Date(2022, 5, 9, hour, 0, 0, 0, time.UTC),
		Wallet: wallet,
		Kind:   testVerbs[verb],
		Verb:   verb,
		Amount: decimal.RequireFromString(amount),
		TxHash: "TX" + wallet,
	}
}

func TestCSVSink_WritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interim", "actions_raw.csv")
	ctx := context.Background()

	sink, err := OpenCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(ctx, nil))
	require.NoError(t, sink.Append(ctx, []domain.Action{action(1, "W1", "deposit_stable", "100")}))
	require.NoError(t, sink.Append(ctx, []domain.Action{action(2, "W2", "redeem_stable", "0.5")}))
	require.NoError(t, sink.Close())

	// a resumed run appends without a second header
	sink, err = OpenCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(ctx, []domain.Action{action(3, "W3", "deposit_stable", "7")}))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "hour,wallet,action,amount,txhash", lines[0])
	assert.Equal(t, "2022-05-09T01:00:00Z,W1,deposit_stable,100,TXW1", lines[1])
	assert.Equal(t, "2022-05-09T02:00:00Z,W2,redeem_stable,0.5,TXW2", lines[2])
	assert.Equal(t, 1, strings.Count(string(data), "hour,wallet"))
}

func TestCSVSink_EmptyAppendWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions_raw.csv")
	sink, err := OpenCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), nil))
	require.NoError(t, sink.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestCSVSink_AppendAfterClose(t *testing.T) {
	sink, err := OpenCSVSink(filepath.Join(t.TempDir(), "actions_raw.csv"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	err = sink.Append(context.Background(), []domain.Action{action(1, "W", "deposit_stable", "1")})
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestActionLogReader_Chunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions_raw.csv")
	sink, err := OpenCSVSink(path)
	require.NoError(t, err)

	var written []domain.Action
	for i := 0; i < 7; i++ {
		written = append(written, action(i, "W", "deposit_stable", "1.25"))
	}
	require.NoError(t, sink.Append(context.Background(), written))
	require.NoError(t, sink.Close())

	reader := NewActionLogReader(path, testVerbs)
	var chunks [][]domain.Action
	err = reader.ReadChunks(context.Background(), 3, func(chunk []domain.Action) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[2], 1)

	var read []domain.Action
	for _, c := range chunks {
		read = append(read, c...)
	}
	require.Len(t, read, len(written))
	for i := range written {
		assert.True(t, written[i].Hour.Equal(read[i].Hour))
		assert.True(t, written[i].Amount.Equal(read[i].Amount))
		assert.Equal(t, domain.ActionDeposit, read[i].Kind)
	}
}

func TestActionLogReader_SkipsBadRowsAndAcceptsOffsetHours(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions_raw.csv")
	content := strings.Join([]string{
		"hour,wallet,action,amount,txhash",
		"2022-05-09T01:00:00+00:00,W1,deposit_stable,100.0,A",
		"garbage,W2,deposit_stable,1,B",
		"2022-05-09T01:00:00Z,W3,claim_rewards,1,C",
		"2022-05-09T01:00:00Z,W4,redeem_stable,abc,D",
		"2022-05-09T01:00:00Z,,redeem_stable,1,E",
		"2022-05-09T02:00:00Z,W5,redeem_stable,2,",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reader := NewActionLogReader(path, testVerbs)
	var got []domain.Action
	require.NoError(t, reader.ReadChunks(context.Background(), 100, func(chunk []domain.Action) error {
		got = append(got, chunk...)
		return nil
	}))

	require.Len(t, got, 2)
	assert.Equal(t, "W1", got[0].Wallet)
	assert.Equal(t, time.Date(2022, 5, 9, 1, 0, 0, 0, time.UTC), got[0].Hour)
	assert.Equal(t, domain.ActionRedeem, got[1].Kind)
	assert.Equal(t, 4, reader.Skipped())
}

func TestActionLogReader_Missing(t *testing.T) {
	reader := NewActionLogReader(filepath.Join(t.TempDir(), "missing.csv"), testVerbs)
	err := reader.ReadChunks(context.Background(), 10, func([]domain.Action) error { return nil })
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFlowWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFlowWriter(dir)
	require.NoError(t, err)

	flows := []domain.HourlyFlow{{
		Hour:   time.Date(2022, 5, 9, 1, 0, 0, 0, time.UTC),
		Wallet: "W1",
		Amount: decimal.NewFromInt(100),
	}}
	require.NoError(t, w.InsertFlows(context.Background(), domain.ActionDeposit, flows))
	require.NoError(t, w.InsertFlows(context.Background(), domain.ActionRedeem, nil))
	assert.ErrorIs(t, w.InsertFlows(context.Background(), "transfer", nil), storage.ErrInvalidInput)

	deposits, err := os.ReadFile(filepath.Join(dir, DepositsFile))
	require.NoError(t, err)
	assert.Equal(t, "hour,wallet,ust_inflow\n2022-05-09T01:00:00Z,W1,100\n", string(deposits))

	redeems, err := os.ReadFile(w.Path(domain.ActionRedeem))
	require.NoError(t, err)
	assert.Equal(t, "hour,wallet,ust_outflow\n", string(redeems))
}
