package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/storage"
)

func createTestOrder(id string) *domain.Order {
	created := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Order{
		ID: id,
		Request: domain.OrderRequest{
			AccountID:   "acct-1",
			Side:        domain.SideBuy,
			SourceAsset: "BASE",
			TargetAsset: "TOKEN",
			AmountIn:    1.5,
			SlippagePct: 10,
			Deadline:    created.Add(time.Minute),
			MaxFee:      0.01,
			PriorityFee: 0.001,
			Channel:     domain.ChannelBundle,
			SafetyCheck: true,
			RetryBudget: 2,
		},
		State:       domain.OrderStatePending,
		ExpectedOut: 1500,
		MinOut:      1350,
		MaxFee:      0.01,
		PriorityFee: 0.001,
		CreatedAt:   created,
	}
}

func TestOrderStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewOrderStore(pool)

	order := createTestOrder("order-001")
	require.NoError(t, store.Insert(ctx, order))

	retrieved, err := store.GetByID(ctx, "order-001")
	require.NoError(t, err)

	assert.Equal(t, order.ID, retrieved.ID)
	assert.Equal(t, order.Request.AccountID, retrieved.Request.AccountID)
	assert.Equal(t, order.Request.Side, retrieved.Request.Side)
	assert.Equal(t, order.Request.Channel, retrieved.Request.Channel)
	assert.Equal(t, order.Request.SafetyCheck, retrieved.Request.SafetyCheck)
	assert.Equal(t, order.Request.RetryBudget, retrieved.Request.RetryBudget)
	assert.Equal(t, order.State, retrieved.State)
	assert.InDelta(t, order.ExpectedOut, retrieved.ExpectedOut, 1e-9)
	assert.InDelta(t, order.MinOut, retrieved.MinOut, 1e-9)
	assert.False(t, retrieved.HasSequence)
	assert.True(t, retrieved.SubmittedAt.IsZero(), "unsubmitted order has zero SubmittedAt")
	assert.True(t, retrieved.ConfirmedAt.IsZero(), "unconfirmed order has zero ConfirmedAt")
}

func TestOrderStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewOrderStore(pool)

	order := createTestOrder("order-dup")
	require.NoError(t, store.Insert(ctx, order))

	err := store.Insert(ctx, order)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestOrderStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewOrderStore(pool).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrderStore_UpdateLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewOrderStore(pool)

	order := createTestOrder("order-lifecycle")
	require.NoError(t, store.Insert(ctx, order))

	order.State = domain.OrderStateConfirmed
	order.Sequence = 7
	order.HasSequence = true
	order.Channel = domain.ChannelBundle
	order.TxHash = "tx-abc"
	order.InclusionBlock = 12345
	order.FilledOut = 1480
	order.RetryCount = 1
	order.SubmittedAt = order.CreatedAt.Add(100 * time.Millisecond)
	order.ConfirmedAt = order.CreatedAt.Add(2 * time.Second)
	order.Latency = 2 * time.Second
	require.NoError(t, store.Update(ctx, order))

	retrieved, err := store.GetByID(ctx, "order-lifecycle")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStateConfirmed, retrieved.State)
	assert.Equal(t, uint64(7), retrieved.Sequence)
	assert.True(t, retrieved.HasSequence)
	assert.Equal(t, "tx-abc", retrieved.TxHash)
	assert.Equal(t, uint64(12345), retrieved.InclusionBlock)
	assert.InDelta(t, 1480, retrieved.FilledOut, 1e-9)
	assert.Equal(t, 2*time.Second, retrieved.Latency)
	assert.True(t, retrieved.ConfirmedAt.Equal(order.ConfirmedAt))
	assert.True(t, retrieved.Terminal())
}

func TestOrderStore_UpdateNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewOrderStore(pool).Update(context.Background(), createTestOrder("ghost"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrderStore_GetByState(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewOrderStore(pool)

	first := createTestOrder("order-a")
	second := createTestOrder("order-b")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	confirmed := createTestOrder("order-c")
	confirmed.State = domain.OrderStateConfirmed

	require.NoError(t, store.Insert(ctx, first))
	require.NoError(t, store.Insert(ctx, second))
	require.NoError(t, store.Insert(ctx, confirmed))

	pending, err := store.GetByState(ctx, domain.OrderStatePending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "order-a", pending[0].ID)
	assert.Equal(t, "order-b", pending[1].ID)
}

func TestOrderStore_GetByAccount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewOrderStore(pool)

	mine := createTestOrder("order-mine")
	other := createTestOrder("order-other")
	other.Request.AccountID = "acct-2"

	require.NoError(t, store.Insert(ctx, mine))
	require.NoError(t, store.Insert(ctx, other))

	orders, err := store.GetByAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "order-mine", orders[0].ID)
}
