// Package storage defines the persistence interfaces for orders,
// positions, and the append-only audit and analytics records, with
// in-memory, Postgres, and ClickHouse implementations in subpackages.
package storage

import (
	"context"
	"time"

	"onchain-executor/internal/domain"
)

// OrderStore provides access to orders storage.
type OrderStore interface {
	// Insert adds a new order. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, o *domain.Order) error

	// Update rewrites an existing order. Returns ErrNotFound if not exists.
	Update(ctx context.Context, o *domain.Order) error

	// GetByID retrieves an order by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByState retrieves all orders in a state, ordered by creation time ASC.
	GetByState(ctx context.Context, state domain.OrderState) ([]*domain.Order, error)

	// GetByAccount retrieves all orders for an account, ordered by creation time ASC.
	GetByAccount(ctx context.Context, accountID string) ([]*domain.Order, error)
}

// PositionStore provides access to positions storage.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, p *domain.Position) error

	// Update rewrites an existing position. Returns ErrNotFound if not exists.
	Update(ctx context.Context, p *domain.Position) error

	// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)

	// GetOpen retrieves all open positions, ordered by open time ASC.
	GetOpen(ctx context.Context) ([]*domain.Position, error)

	// GetByAsset retrieves all positions holding an asset, ordered by open time ASC.
	GetByAsset(ctx context.Context, asset string) ([]*domain.Position, error)
}

// ValuationTickStore provides access to valuation_ticks storage, the
// append-only per-position valuation history.
type ValuationTickStore interface {
	// InsertBulk adds multiple ticks. Existing rows are never updated.
	InsertBulk(ctx context.Context, ticks []*domain.ValuationTick) error

	// GetByPositionID retrieves all ticks for a position, ordered by timestamp ASC.
	GetByPositionID(ctx context.Context, positionID string) ([]*domain.ValuationTick, error)

	// GetByTimeRange retrieves ticks for a position within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, positionID string, start, end time.Time) ([]*domain.ValuationTick, error)
}

// ExecutionRecordStore provides access to execution_records storage,
// the append-only audit trail of execution attempts.
type ExecutionRecordStore interface {
	// Insert adds one record per execution attempt.
	Insert(ctx context.Context, r *domain.ExecutionRecord) error

	// GetByOrderID retrieves all attempts for an order, ordered by timestamp ASC.
	GetByOrderID(ctx context.Context, orderID string) ([]*domain.ExecutionRecord, error)

	// GetByTimeRange retrieves records within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.ExecutionRecord, error)
}
