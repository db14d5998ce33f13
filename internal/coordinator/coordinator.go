// Package coordinator drives built orders through signing, bundle
// protection, submission, and confirmation, retrying within each
// order's budget.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"onchain-executor/internal/builder"
	"onchain-executor/internal/bundle"
	"onchain-executor/internal/domain"
	"onchain-executor/internal/eventbus"
	"onchain-executor/internal/ledger"
	"onchain-executor/internal/observability"
	"onchain-executor/internal/storage"
	"onchain-executor/internal/wallet"
)

// Terminal execution errors.
var (
	// ErrBudgetExhausted means every allowed attempt failed.
	ErrBudgetExhausted = errors.New("retry budget exhausted")

	// ErrDeadlinePassed means the order's absolute deadline elapsed
	// before an attempt could be submitted.
	ErrDeadlinePassed = errors.New("order deadline passed")

	// ErrCanceled means the order was canceled between attempts.
	ErrCanceled = errors.New("order canceled")
)

// NotIncludedError reports a submitted transaction that never landed
// within the confirmation window. NonceConsumed tells the retry path
// whether the sequence number can be reused for a replacement.
type NotIncludedError struct {
	TxHash        string
	Sequence      uint64
	NonceConsumed bool
}

func (e *NotIncludedError) Error() string {
	if e.NonceConsumed {
		return fmt.Sprintf("transaction %s not included, sequence %d consumed elsewhere", e.TxHash, e.Sequence)
	}
	return fmt.Sprintf("transaction %s not included, sequence %d still free", e.TxHash, e.Sequence)
}

// Default tuning.
const (
	DefaultConfirmTimeout = 30 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultBlockSpread    = 3
	DefaultGasLimit       = 400_000
)

// Config tunes the coordinator.
type Config struct {
	// ConfirmTimeout bounds the inclusion wait per attempt.
	ConfirmTimeout time.Duration

	// PollInterval is the status poll cadence during the inclusion wait.
	PollInterval time.Duration

	// BlockSpread is how many consecutive candidate blocks each bundle
	// submission targets.
	BlockSpread int

	// RecheckSafetyOnRetry re-runs the asset safety check before each
	// retry attempt, not just at build time.
	RecheckSafetyOnRetry bool

	// Router is the execution venue router address transactions are
	// addressed to.
	Router string

	// GasLimit is the per-transaction gas limit.
	GasLimit uint64
}

func (c *Config) applyDefaults() {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BlockSpread <= 0 {
		c.BlockSpread = DefaultBlockSpread
	}
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
}

// Coordinator owns the execution loop for one process. Orders for the
// same account serialize on the registry's allocation lock; different
// accounts execute concurrently.
type Coordinator struct {
	registry   *wallet.Registry
	ledger     ledger.Client
	builder    *builder.Builder
	protection *bundle.ProtectionLayer
	bus        *eventbus.Bus
	orders     storage.OrderStore
	records    storage.ExecutionRecordStore
	logger     *log.Logger
	metrics    *observability.Metrics
	cfg        Config

	mu       sync.Mutex
	canceled map[string]struct{}
}

// Options configures a Coordinator. Registry, Ledger, Builder, and
// Protection are required; stores, bus, and metrics are optional.
type Options struct {
	Registry   *wallet.Registry
	Ledger     ledger.Client
	Builder    *builder.Builder
	Protection *bundle.ProtectionLayer
	Bus        *eventbus.Bus
	Orders     storage.OrderStore
	Records    storage.ExecutionRecordStore
	Logger     *log.Logger
	Metrics    *observability.Metrics
	Config     Config
}

// New creates a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Registry == nil || opts.Ledger == nil || opts.Builder == nil || opts.Protection == nil {
		return nil, fmt.Errorf("registry, ledger, builder, and protection are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	cfg := opts.Config
	cfg.applyDefaults()
	return &Coordinator{
		registry:   opts.Registry,
		ledger:     opts.Ledger,
		builder:    opts.Builder,
		protection: opts.Protection,
		bus:        opts.Bus,
		orders:     opts.Orders,
		records:    opts.Records,
		logger:     logger,
		metrics:    opts.Metrics,
		cfg:        cfg,
		canceled:   make(map[string]struct{}),
	}, nil
}

// Cancel requests cancellation of an order. It takes effect before the
// next attempt; an attempt already in flight runs to its outcome.
func (c *Coordinator) Cancel(orderID string) {
	c.mu.Lock()
	c.canceled[orderID] = struct{}{}
	c.mu.Unlock()
}

func (c *Coordinator) isCanceled(orderID string) bool {
	c.mu.Lock()
	_, ok := c.canceled[orderID]
	c.mu.Unlock()
	return ok
}

func (c *Coordinator) clearCancel(orderID string) {
	c.mu.Lock()
	delete(c.canceled, orderID)
	c.mu.Unlock()
}

func (c *Coordinator) publish(t domain.EventType, order *domain.Order) {
	if c.bus != nil {
		c.bus.PublishOrder(t, order)
	}
}

func (c *Coordinator) persist(ctx context.Context, order *domain.Order) {
	if c.orders == nil {
		return
	}
	if err := c.orders.Update(ctx, order); err != nil {
		c.logger.Printf("persist order %s: %v", order.ID, err)
	}
}

func (c *Coordinator) record(ctx context.Context, rec *domain.ExecutionRecord) {
	if c.records == nil {
		return
	}
	if err := c.records.Insert(ctx, rec); err != nil {
		c.logger.Printf("audit record for order %s: %v", rec.OrderID, err)
	}
}

// attemptState carries what one attempt leaves behind for the next.
type attemptState struct {
	sequence      uint64
	haveSequence  bool
	reuseSequence bool
}

// Execute drives an order to a terminal state, mutating it in place.
// It returns nil when the order confirmed and the terminal error
// otherwise. The order must come from the builder in Pending state.
func (c *Coordinator) Execute(ctx context.Context, order *domain.Order) error {
	defer c.clearCancel(order.ID)

	if c.orders != nil {
		if err := c.orders.Insert(ctx, order); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			c.logger.Printf("insert order %s: %v", order.ID, err)
		}
	}
	c.publish(domain.EventOrderCreated, order)

	var st attemptState
	var lastErr error

	budget := order.Request.RetryBudget
	for attempt := 1; attempt <= budget; attempt++ {
		order.RetryCount = attempt

		if c.isCanceled(order.ID) {
			return c.fail(ctx, order, ErrCanceled, "canceled", &domain.ExecutionRecord{
				ID: uuid.NewString(), OrderID: order.ID, Attempt: attempt,
				Outcome: domain.ExecOutcomeCanceled, Reason: "canceled before attempt",
				TimestampMs: time.Now().UnixMilli(),
			})
		}
		if !order.Request.Deadline.IsZero() && time.Now().After(order.Request.Deadline) {
			order.RetryCount = budget // deadline expiry is terminal regardless of budget
			return c.fail(ctx, order, ErrDeadlinePassed, "deadline passed", nil)
		}

		if attempt > 1 {
			if c.metrics != nil {
				c.metrics.OrderRetries.Inc()
			}
			// Amounts move between attempts; never resubmit a stale quote.
			if err := c.builder.Refresh(ctx, order); err != nil {
				lastErr = err
				c.logger.Printf("order %s attempt %d: refresh: %v", order.ID, attempt, err)
				continue
			}
			if c.cfg.RecheckSafetyOnRetry && order.Request.SafetyCheck {
				asset := order.Request.TargetAsset
				if order.Request.Side == domain.SideSell {
					asset = order.Request.SourceAsset
				}
				if err := c.builder.CheckSafety(ctx, asset); err != nil {
					order.RetryCount = budget
					return c.fail(ctx, order, err, err.Error(), nil)
				}
			}
		}

		err := c.attempt(ctx, order, attempt, &st)
		if err == nil {
			return nil
		}
		lastErr = err

		var notIncluded *NotIncludedError
		if errors.As(err, &notIncluded) {
			// An unconsumed sequence is reused so the replacement
			// supersedes the stuck transaction instead of queueing
			// behind it.
			st.reuseSequence = !notIncluded.NonceConsumed
		}
		c.logger.Printf("order %s attempt %d/%d failed: %v", order.ID, attempt, budget, err)

		order.State = domain.OrderStateFailed
		order.FailureReason = err.Error()
		c.persist(ctx, order)
	}

	err := fmt.Errorf("%w after %d attempts: %v", ErrBudgetExhausted, budget, lastErr)
	return c.fail(ctx, order, err, err.Error(), nil)
}

// fail moves the order to Failed, records the optional audit row, and
// publishes the terminal event.
func (c *Coordinator) fail(ctx context.Context, order *domain.Order, err error, reason string, rec *domain.ExecutionRecord) error {
	order.State = domain.OrderStateFailed
	order.FailureReason = reason
	if rec != nil {
		c.record(ctx, rec)
	}
	c.persist(ctx, order)
	c.publish(domain.EventOrderFailed, order)
	if c.metrics != nil {
		c.metrics.OrdersFinished.WithLabelValues(order.Request.Side, "failed").Inc()
	}
	return err
}

// attempt runs one sign/protect/submit/confirm cycle.
func (c *Coordinator) attempt(ctx context.Context, order *domain.Order, attempt int, st *attemptState) error {
	req := order.Request

	account, err := c.registry.Account(req.AccountID)
	if err != nil {
		return err
	}
	kp, err := c.registry.Keypair(req.AccountID)
	if err != nil {
		return err
	}

	if st.reuseSequence && st.haveSequence {
		c.logger.Printf("order %s attempt %d: reusing sequence %d", order.ID, attempt, st.sequence)
	} else {
		seq, err := c.registry.Allocate(ctx, req.AccountID)
		if err != nil {
			return fmt.Errorf("allocate sequence: %w", err)
		}
		st.sequence = seq
		st.haveSequence = true
		if c.metrics != nil {
			c.metrics.SequencesAllocated.Inc()
		}
	}
	// The sequence stays unconsumed through any failure short of an
	// on-chain landing, so a retry carries the same number. The
	// inclusion paths below override this once the ledger says more.
	st.reuseSequence = true

	tx, err := wallet.SignTransaction(kp, wallet.TxParams{
		Recipient:   c.cfg.Router,
		Sequence:    st.sequence,
		SourceAsset: req.SourceAsset,
		TargetAsset: req.TargetAsset,
		AmountIn:    req.AmountIn,
		MinOut:      order.MinOut,
		Deadline:    req.Deadline.Unix(),
		MaxFee:      order.MaxFee,
		PriorityFee: order.PriorityFee,
		GasLimit:    c.cfg.GasLimit,
	})
	if err != nil {
		c.record(ctx, &domain.ExecutionRecord{
			ID: uuid.NewString(), OrderID: order.ID, Attempt: attempt,
			Outcome: domain.ExecOutcomeBuildFailed, Reason: err.Error(),
			TimestampMs: time.Now().UnixMilli(),
		})
		return fmt.Errorf("sign transaction: %w", err)
	}

	order.State = domain.OrderStateExecuting
	order.Sequence = st.sequence
	order.HasSequence = true
	order.TxHash = tx.Hash
	c.persist(ctx, order)

	head, err := c.ledger.GetBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read block number: %w", err)
	}
	targetBlock := head + 1

	b, err := c.protection.Wrap([]*domain.SignedTransaction{tx}, targetBlock)
	if err != nil {
		return err
	}

	sim, err := c.protection.Simulate(ctx, b)
	if err != nil {
		return fmt.Errorf("simulate bundle %s: %w", b.ID, err)
	}
	rec := &domain.ExecutionRecord{
		ID: uuid.NewString(), OrderID: order.ID, Attempt: attempt,
		BundleID: b.ID, TxHash: tx.Hash, TargetBlock: targetBlock,
		Channel:    string(req.Channel),
		SimSuccess: sim.Success, SimGasUsed: sim.TotalGasUsed, SimFee: sim.TotalFee,
		TimestampMs: time.Now().UnixMilli(),
	}
	if !sim.Success {
		rec.Outcome = domain.ExecOutcomeSimReverted
		rec.Reason = sim.Reason
		c.record(ctx, rec)
		return fmt.Errorf("simulation reverted: %s", sim.Reason)
	}

	outcome, err := c.protection.Dispatch(ctx, b, req.Channel, c.cfg.BlockSpread)
	if err != nil {
		rec.Outcome = domain.ExecOutcomeRejected
		rec.Reason = err.Error()
		c.record(ctx, rec)
		return fmt.Errorf("dispatch bundle %s: %w", b.ID, err)
	}

	if order.SubmittedAt.IsZero() {
		order.SubmittedAt = time.Now()
	}
	order.Channel = outcome.Channel
	order.TxHash = outcome.TxHash
	rec.Channel = string(outcome.Channel)
	rec.Endpoint = outcome.Endpoint
	rec.TxHash = outcome.TxHash
	c.persist(ctx, order)
	c.publish(domain.EventOrderSubmitted, order)

	status, err := c.waitInclusion(ctx, outcome.TxHash)
	if err != nil {
		return err
	}
	if status == nil {
		// Confirmation window elapsed. Whether the sequence was spent
		// decides reuse versus fresh allocation on the next attempt.
		observed, seqErr := c.ledger.GetSequence(ctx, account.Address)
		consumed := seqErr == nil && observed > st.sequence
		rec.Outcome = domain.ExecOutcomeNotIncluded
		rec.Reason = fmt.Sprintf("not included within %s", c.cfg.ConfirmTimeout)
		c.record(ctx, rec)
		return &NotIncludedError{TxHash: outcome.TxHash, Sequence: st.sequence, NonceConsumed: consumed}
	}

	if !status.Success {
		rec.Outcome = domain.ExecOutcomeNotIncluded
		rec.Reason = "reverted on chain"
		c.record(ctx, rec)
		st.reuseSequence = false // a reverted inclusion still consumes the sequence
		return fmt.Errorf("transaction %s reverted on chain", status.Hash)
	}

	order.State = domain.OrderStateConfirmed
	order.InclusionBlock = status.BlockNumber
	order.FilledOut = status.AmountOut
	if order.FilledOut == 0 && len(sim.Transactions) > 0 {
		order.FilledOut = sim.Transactions[0].AmountOut
	}
	order.ConfirmedAt = time.Now()
	order.Latency = order.ConfirmedAt.Sub(order.CreatedAt)
	order.FailureReason = ""

	rec.Outcome = domain.ExecOutcomeConfirmed
	c.record(ctx, rec)
	c.persist(ctx, order)
	c.publish(domain.EventOrderConfirmed, order)

	if c.metrics != nil {
		c.metrics.OrdersFinished.WithLabelValues(req.Side, "confirmed").Inc()
		c.metrics.OrderLatency.Observe(order.ConfirmedAt.Sub(order.SubmittedAt).Seconds())
		c.metrics.LastConfirmedOrder.SetToCurrentTime()
	}
	c.logger.Printf("order %s confirmed in block %d, tx %s, filled %.6f",
		order.ID, status.BlockNumber, status.Hash, order.FilledOut)
	return nil
}

// waitInclusion polls transaction status until inclusion or the
// confirmation window elapses. A nil status with nil error means the
// window elapsed without inclusion.
func (c *Coordinator) waitInclusion(ctx context.Context, hash string) (*ledger.TxStatus, error) {
	deadline := time.NewTimer(c.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := c.ledger.GetTransactionStatus(ctx, hash)
		if err != nil {
			c.logger.Printf("status poll for %s: %v", hash, err)
		} else if status != nil && status.Included {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
		}
	}
}
