package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-executor/internal/domain"
)

func createTestRecord(id, orderID string, attempt int, outcome string, ts int64) *domain.ExecutionRecord {
	return &domain.ExecutionRecord{
		ID:          id,
		OrderID:     orderID,
		Attempt:     attempt,
		BundleID:    "bundle-" + id,
		TxHash:      "tx-" + id,
		TargetBlock: 100,
		Channel:     string(domain.ChannelBundle),
		Endpoint:    "relay-a",
		SimSuccess:  true,
		SimGasUsed:  210_000,
		SimFee:      0.0005,
		Outcome:     outcome,
		TimestampMs: ts,
	}
}

func TestExecutionRecordStore_InsertAndGetByOrderID(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewExecutionRecordStore(conn)

	base := int64(1_700_000_000_000)
	require.NoError(t, store.Insert(ctx, createTestRecord("r1", "order-1", 1, domain.ExecOutcomeNotIncluded, base)))
	require.NoError(t, store.Insert(ctx, createTestRecord("r2", "order-1", 2, domain.ExecOutcomeConfirmed, base+5000)))
	require.NoError(t, store.Insert(ctx, createTestRecord("r3", "order-2", 1, domain.ExecOutcomeConfirmed, base)))

	records, err := store.GetByOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 1, records[0].Attempt)
	assert.Equal(t, domain.ExecOutcomeNotIncluded, records[0].Outcome)
	assert.Equal(t, 2, records[1].Attempt)
	assert.Equal(t, domain.ExecOutcomeConfirmed, records[1].Outcome)
	assert.Equal(t, "relay-a", records[0].Endpoint)
	assert.Equal(t, uint64(210_000), records[0].SimGasUsed)
	assert.InDelta(t, 0.0005, records[0].SimFee, 1e-12)
}

func TestExecutionRecordStore_GetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewExecutionRecordStore(conn)

	base := int64(1_700_000_000_000)
	for i := 0; i < 5; i++ {
		rec := createTestRecord(
			"range-"+string(rune('a'+i)), "order-range", i+1,
			domain.ExecOutcomeRejected, base+int64(i)*1000,
		)
		require.NoError(t, store.Insert(ctx, rec))
	}

	records, err := store.GetByTimeRange(ctx, time.UnixMilli(base+1000), time.UnixMilli(base+3000))
	require.NoError(t, err)
	require.Len(t, records, 3, "range bounds are inclusive")
	assert.Equal(t, 2, records[0].Attempt)
	assert.Equal(t, 4, records[2].Attempt)
}

func TestExecutionRecordStore_GetByOrderIDEmpty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	records, err := NewExecutionRecordStore(conn).GetByOrderID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, records)
}
