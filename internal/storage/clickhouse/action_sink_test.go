package clickhouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/storage"
	chstore "anchor-flow-lab/internal/storage/clickhouse"
)

func TestActionSink_AppendAndRead(t *testing.T) {
	conn := setupTestDB(t)

	sink := chstore.NewActionSink(conn)
	ctx := context.Background()

	// empty append is a no-op
	assert.NoError(t, sink.Append(ctx, nil))

	hour := time.Date(2022, 5, 9, 1, 0, 0, 0, time.UTC)
	actions := []domain.Action{
		{Hour: hour, Wallet: "W1", Kind: domain.ActionDeposit, Verb: "deposit_stable", Amount: decimal.RequireFromString("100.123456789012"), TxHash: "A"},
		{Hour: hour, Wallet: "W2", Kind: domain.ActionRedeem, Verb: "redeem_stable", Amount: decimal.NewFromInt(5), TxHash: "B"},
		{Hour: hour.Add(time.Hour), Wallet: "W1", Kind: domain.ActionDeposit, Verb: "deposit_stable", Amount: decimal.NewFromInt(1)},
	}
	require.NoError(t, sink.Append(ctx, actions))

	var got []domain.Action
	err := sink.ReadChunks(ctx, 2, func(chunk []domain.Action) error {
		assert.LessOrEqual(t, len(chunk), 2)
		got = append(got, chunk...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "W1", got[0].Wallet)
	assert.Equal(t, domain.ActionDeposit, got[0].Kind)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("100.123456789012")))
	assert.True(t, got[0].Hour.Equal(hour))
	assert.Equal(t, "A", got[0].TxHash)
	assert.Equal(t, "redeem_stable", got[1].Verb)

	assert.ErrorIs(t, sink.ReadChunks(ctx, 0, nil), storage.ErrInvalidInput)
}

func TestFlowStore_InsertAndGet(t *testing.T) {
	conn := setupTestDB(t)

	store := chstore.NewFlowStore(conn)
	ctx := context.Background()

	hour := time.Date(2022, 5, 9, 1, 0, 0, 0, time.UTC)
	flows := []domain.HourlyFlow{
		{Hour: hour, Wallet: "W1", Amount: decimal.NewFromInt(100)},
		{Hour: hour.Add(time.Hour), Wallet: "W2", Amount: decimal.RequireFromString("0.5")},
	}
	require.NoError(t, store.InsertFlows(ctx, domain.ActionDeposit, flows))
	require.NoError(t, store.InsertFlows(ctx, domain.ActionRedeem, flows[:1]))
	assert.ErrorIs(t, store.InsertFlows(ctx, "transfer", flows), storage.ErrInvalidInput)

	got, err := store.GetFlows(ctx, domain.ActionDeposit, hour, hour.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "W1", got[0].Wallet)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, got[1].Hour.Equal(hour.Add(time.Hour)))

	// re-aggregation replaces the row for the same key
	require.NoError(t, store.InsertFlows(ctx, domain.ActionDeposit, []domain.HourlyFlow{
		{Hour: hour, Wallet: "W1", Amount: decimal.NewFromInt(250)},
	}))
	got, err = store.GetFlows(ctx, domain.ActionDeposit, hour, hour)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(250)))

	redeems, err := store.GetFlows(ctx, domain.ActionRedeem, hour, hour.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, redeems, 1)
}
