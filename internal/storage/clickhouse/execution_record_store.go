package clickhouse

import (
	"context"
	"fmt"
	"time"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/storage"
)

// ExecutionRecordStore implements storage.ExecutionRecordStore using ClickHouse.
type ExecutionRecordStore struct {
	conn *Conn
}

// NewExecutionRecordStore creates a new ExecutionRecordStore.
func NewExecutionRecordStore(conn *Conn) *ExecutionRecordStore {
	return &ExecutionRecordStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ExecutionRecordStore = (*ExecutionRecordStore)(nil)

const executionRecordColumns = `
	record_id, order_id, attempt, bundle_id, tx_hash, target_block,
	channel, endpoint, sim_success, sim_gas_used, sim_fee,
	outcome, reason, timestamp_ms
`

// Insert adds one record per execution attempt.
func (s *ExecutionRecordStore) Insert(ctx context.Context, r *domain.ExecutionRecord) error {
	query := `
		INSERT INTO execution_records (` + executionRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		r.ID, r.OrderID, uint32(r.Attempt), r.BundleID, r.TxHash, r.TargetBlock,
		r.Channel, r.Endpoint, r.SimSuccess, r.SimGasUsed, r.SimFee,
		r.Outcome, r.Reason, uint64(r.TimestampMs),
	)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// GetByOrderID retrieves all attempts for an order, ordered by timestamp ASC.
func (s *ExecutionRecordStore) GetByOrderID(ctx context.Context, orderID string) ([]*domain.ExecutionRecord, error) {
	query := `
		SELECT ` + executionRecordColumns + `
		FROM execution_records
		WHERE order_id = ?
		ORDER BY timestamp_ms ASC, attempt ASC
	`

	rows, err := s.conn.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query by order id: %w", err)
	}
	defer rows.Close()

	return scanExecutionRecords(rows)
}

// GetByTimeRange retrieves records within [start, end] (inclusive).
func (s *ExecutionRecordStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.ExecutionRecord, error) {
	query := `
		SELECT ` + executionRecordColumns + `
		FROM execution_records
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, attempt ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start.UnixMilli()), uint64(end.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanExecutionRecords(rows)
}

// scanExecutionRecords scans multiple rows.
func scanExecutionRecords(rows chRows) ([]*domain.ExecutionRecord, error) {
	var records []*domain.ExecutionRecord

	for rows.Next() {
		var r domain.ExecutionRecord
		var attempt uint32
		var timestampMs uint64

		err := rows.Scan(
			&r.ID, &r.OrderID, &attempt, &r.BundleID, &r.TxHash, &r.TargetBlock,
			&r.Channel, &r.Endpoint, &r.SimSuccess, &r.SimGasUsed, &r.SimFee,
			&r.Outcome, &r.Reason, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan execution record row: %w", err)
		}

		r.Attempt = int(attempt)
		r.TimestampMs = int64(timestampMs)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution record rows: %w", err)
	}

	return records, nil
}
