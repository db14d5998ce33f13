package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

const orderColumns = `
	order_id, account_id, side, source_asset, target_asset,
	amount_in, slippage_pct, deadline, req_max_fee, req_priority_fee,
	req_channel, safety_check, retry_budget,
	state, expected_out, min_out, max_fee, priority_fee,
	sequence, has_sequence, submit_channel, tx_hash,
	inclusion_block, filled_out, retry_count, failure_reason,
	created_at, submitted_at, confirmed_at, latency_ns
`

// Insert adds a new order. Returns ErrDuplicateKey if the id exists.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22,
			$23, $24, $25, $26,
			$27, $28, $29, $30
		)
	`

	_, err := s.pool.Exec(ctx, query, orderArgs(o)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Update rewrites an existing order. Returns ErrNotFound if not exists.
func (s *OrderStore) Update(ctx context.Context, o *domain.Order) error {
	query := `
		UPDATE orders SET
			account_id = $2, side = $3, source_asset = $4, target_asset = $5,
			amount_in = $6, slippage_pct = $7, deadline = $8,
			req_max_fee = $9, req_priority_fee = $10,
			req_channel = $11, safety_check = $12, retry_budget = $13,
			state = $14, expected_out = $15, min_out = $16,
			max_fee = $17, priority_fee = $18,
			sequence = $19, has_sequence = $20, submit_channel = $21, tx_hash = $22,
			inclusion_block = $23, filled_out = $24, retry_count = $25,
			failure_reason = $26,
			created_at = $27, submitted_at = $28, confirmed_at = $29, latency_ns = $30
		WHERE order_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, orderArgs(o)...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves an order by its ID. Returns ErrNotFound if not exists.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

	row := s.pool.QueryRow(ctx, query, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// GetByState retrieves all orders in a state, ordered by creation time ASC.
func (s *OrderStore) GetByState(ctx context.Context, state domain.OrderState) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE state = $1
		ORDER BY created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("query orders by state: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetByAccount retrieves all orders for an account, ordered by creation time ASC.
func (s *OrderStore) GetByAccount(ctx context.Context, accountID string) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE account_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query orders by account: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// orderArgs flattens an order into the positional argument list shared by
// Insert and Update.
func orderArgs(o *domain.Order) []any {
	return []any{
		o.ID, o.Request.AccountID, o.Request.Side, o.Request.SourceAsset, o.Request.TargetAsset,
		o.Request.AmountIn, o.Request.SlippagePct, o.Request.Deadline,
		o.Request.MaxFee, o.Request.PriorityFee,
		string(o.Request.Channel), o.Request.SafetyCheck, o.Request.RetryBudget,
		string(o.State), o.ExpectedOut, o.MinOut, o.MaxFee, o.PriorityFee,
		int64(o.Sequence), o.HasSequence, string(o.Channel), o.TxHash,
		int64(o.InclusionBlock), o.FilledOut, o.RetryCount, o.FailureReason,
		o.CreatedAt, timePtr(o.SubmittedAt), timePtr(o.ConfirmedAt), int64(o.Latency),
	}
}

// scanOrder scans a single row into an Order.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                      domain.Order
		reqChannel, subChannel string
		state                  string
		sequence               int64
		inclusionBlock         int64
		latencyNs              int64
		submittedAt            *time.Time
		confirmedAt            *time.Time
	)

	err := row.Scan(
		&o.ID, &o.Request.AccountID, &o.Request.Side, &o.Request.SourceAsset, &o.Request.TargetAsset,
		&o.Request.AmountIn, &o.Request.SlippagePct, &o.Request.Deadline,
		&o.Request.MaxFee, &o.Request.PriorityFee,
		&reqChannel, &o.Request.SafetyCheck, &o.Request.RetryBudget,
		&state, &o.ExpectedOut, &o.MinOut, &o.MaxFee, &o.PriorityFee,
		&sequence, &o.HasSequence, &subChannel, &o.TxHash,
		&inclusionBlock, &o.FilledOut, &o.RetryCount, &o.FailureReason,
		&o.CreatedAt, &submittedAt, &confirmedAt, &latencyNs,
	)
	if err != nil {
		return nil, err
	}

	o.Request.Channel = domain.SubmissionChannel(reqChannel)
	o.State = domain.OrderState(state)
	o.Sequence = uint64(sequence)
	o.Channel = domain.SubmissionChannel(subChannel)
	o.InclusionBlock = uint64(inclusionBlock)
	o.Latency = time.Duration(latencyNs)
	o.SubmittedAt = timeVal(submittedAt)
	o.ConfirmedAt = timeVal(confirmedAt)
	return &o, nil
}

// scanOrders scans multiple rows.
func scanOrders(rows pgx.Rows) ([]*domain.Order, error) {
	var orders []*domain.Order

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// timePtr maps the zero time to NULL.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// timeVal maps NULL back to the zero time.
func timeVal(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}
