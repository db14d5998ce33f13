package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
// Trigger configuration (take-profit ladder, stop-loss, trailing stop)
// is persisted as JSONB since it is read and written as a unit.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, account_id, asset, base_asset,
	entry_amount_in, entry_amount_out, entry_price, entry_tx_hash, entry_block,
	balance, valuation, current_price, unrealized_pnl, gain_pct, realized_pnl,
	take_profits, stop_loss, trailing_stop,
	state, tags, opened_at, closed_at, ticked_at
`

// Insert adds a new position. Returns ErrDuplicateKey if the id exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	args, err := positionArgs(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21, $22, $23
		)
	`

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Update rewrites an existing position. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	args, err := positionArgs(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE positions SET
			account_id = $2, asset = $3, base_asset = $4,
			entry_amount_in = $5, entry_amount_out = $6, entry_price = $7,
			entry_tx_hash = $8, entry_block = $9,
			balance = $10, valuation = $11, current_price = $12,
			unrealized_pnl = $13, gain_pct = $14, realized_pnl = $15,
			take_profits = $16, stop_loss = $17, trailing_stop = $18,
			state = $19, tags = $20, opened_at = $21, closed_at = $22, ticked_at = $23
		WHERE position_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE position_id = $1`

	row := s.pool.QueryRow(ctx, query, positionID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// GetOpen retrieves all open positions, ordered by open time ASC.
func (s *PositionStore) GetOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE state = $1
		ORDER BY opened_at ASC
	`

	rows, err := s.pool.Query(ctx, query, string(domain.PositionStateOpen))
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetByAsset retrieves all positions holding an asset, ordered by open time ASC.
func (s *PositionStore) GetByAsset(ctx context.Context, asset string) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE asset = $1
		ORDER BY opened_at ASC
	`

	rows, err := s.pool.Query(ctx, query, asset)
	if err != nil {
		return nil, fmt.Errorf("query positions by asset: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

func positionArgs(p *domain.Position) ([]any, error) {
	takeProfits, err := json.Marshal(p.TakeProfits)
	if err != nil {
		return nil, fmt.Errorf("marshal take profits: %w", err)
	}
	var stopLoss, trailingStop []byte
	if p.StopLoss != nil {
		if stopLoss, err = json.Marshal(p.StopLoss); err != nil {
			return nil, fmt.Errorf("marshal stop loss: %w", err)
		}
	}
	if p.TrailingStop != nil {
		if trailingStop, err = json.Marshal(p.TrailingStop); err != nil {
			return nil, fmt.Errorf("marshal trailing stop: %w", err)
		}
	}

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}

	return []any{
		p.ID, p.AccountID, p.Asset, p.BaseAsset,
		p.EntryAmountIn, p.EntryAmountOut, p.EntryPrice, p.EntryTxHash, int64(p.EntryBlock),
		p.Balance, p.Valuation, p.CurrentPrice, p.UnrealizedPnL, p.GainPct, p.RealizedPnL,
		takeProfits, stopLoss, trailingStop,
		string(p.State), tags, p.OpenedAt, timePtr(p.ClosedAt), timePtr(p.TickedAt),
	}, nil
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p                                   domain.Position
		entryBlock                          int64
		takeProfits, stopLoss, trailingStop []byte
		state                               string
		closedAt, tickedAt                  *time.Time
	)

	err := row.Scan(
		&p.ID, &p.AccountID, &p.Asset, &p.BaseAsset,
		&p.EntryAmountIn, &p.EntryAmountOut, &p.EntryPrice, &p.EntryTxHash, &entryBlock,
		&p.Balance, &p.Valuation, &p.CurrentPrice, &p.UnrealizedPnL, &p.GainPct, &p.RealizedPnL,
		&takeProfits, &stopLoss, &trailingStop,
		&state, &p.Tags, &p.OpenedAt, &closedAt, &tickedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(takeProfits) > 0 {
		if err := json.Unmarshal(takeProfits, &p.TakeProfits); err != nil {
			return nil, fmt.Errorf("unmarshal take profits: %w", err)
		}
	}
	if len(stopLoss) > 0 {
		p.StopLoss = &domain.StopLoss{}
		if err := json.Unmarshal(stopLoss, p.StopLoss); err != nil {
			return nil, fmt.Errorf("unmarshal stop loss: %w", err)
		}
	}
	if len(trailingStop) > 0 {
		p.TrailingStop = &domain.TrailingStop{}
		if err := json.Unmarshal(trailingStop, p.TrailingStop); err != nil {
			return nil, fmt.Errorf("unmarshal trailing stop: %w", err)
		}
	}

	p.EntryBlock = uint64(entryBlock)
	p.State = domain.PositionState(state)
	p.ClosedAt = timeVal(closedAt)
	p.TickedAt = timeVal(tickedAt)
	return &p, nil
}

// scanPositions scans multiple rows.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position

	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}
