package clickhouse

import (
	"context"
	"fmt"
	"time"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/storage"
)

// ValuationTickStore implements storage.ValuationTickStore using ClickHouse.
type ValuationTickStore struct {
	conn *Conn
}

// NewValuationTickStore creates a new ValuationTickStore.
func NewValuationTickStore(conn *Conn) *ValuationTickStore {
	return &ValuationTickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ValuationTickStore = (*ValuationTickStore)(nil)

// InsertBulk adds multiple ticks. Existing rows are never updated.
func (s *ValuationTickStore) InsertBulk(ctx context.Context, ticks []*domain.ValuationTick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO valuation_ticks (
			position_id, timestamp_ms, balance, valuation, price, gain_pct
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, tick := range ticks {
		err = batch.Append(
			tick.PositionID, uint64(tick.TimestampMs),
			tick.Balance, tick.Valuation, tick.Price, tick.GainPct,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPositionID retrieves all ticks for a position, ordered by timestamp ASC.
func (s *ValuationTickStore) GetByPositionID(ctx context.Context, positionID string) ([]*domain.ValuationTick, error) {
	query := `
		SELECT position_id, timestamp_ms, balance, valuation, price, gain_pct
		FROM valuation_ticks
		WHERE position_id = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query by position id: %w", err)
	}
	defer rows.Close()

	return scanValuationTicks(rows)
}

// GetByTimeRange retrieves ticks for a position within [start, end] (inclusive).
func (s *ValuationTickStore) GetByTimeRange(ctx context.Context, positionID string, start, end time.Time) ([]*domain.ValuationTick, error) {
	query := `
		SELECT position_id, timestamp_ms, balance, valuation, price, gain_pct
		FROM valuation_ticks
		WHERE position_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, positionID, uint64(start.UnixMilli()), uint64(end.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanValuationTicks(rows)
}

// scanValuationTicks scans multiple rows.
func scanValuationTicks(rows chRows) ([]*domain.ValuationTick, error) {
	var ticks []*domain.ValuationTick

	for rows.Next() {
		var t domain.ValuationTick
		var timestampMs uint64

		err := rows.Scan(
			&t.PositionID, &timestampMs,
			&t.Balance, &t.Valuation, &t.Price, &t.GainPct,
		)
		if err != nil {
			return nil, fmt.Errorf("scan valuation tick row: %w", err)
		}

		t.TimestampMs = int64(timestampMs)
		ticks = append(ticks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate valuation tick rows: %w", err)
	}

	return ticks, nil
}
