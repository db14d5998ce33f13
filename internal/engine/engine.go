// Package engine is the public trading surface. It builds and executes
// orders, opens managed positions on confirmed buys, and executes the
// position monitor's exit sells.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"onchain-executor/internal/builder"
	"onchain-executor/internal/coordinator"
	"onchain-executor/internal/domain"
	"onchain-executor/internal/eventbus"
	"onchain-executor/internal/observability"
	"onchain-executor/internal/position"
	"onchain-executor/internal/storage"
)

// TakeProfitSpec is one requested ladder rung.
type TakeProfitSpec struct {
	TriggerPct   float64 `json:"trigger_pct"`
	SellFraction float64 `json:"sell_fraction"`
}

// ManagePlan describes the automatic management attached to a buy.
// A nil plan confirms the buy without opening a managed position.
type ManagePlan struct {
	TakeProfits []TakeProfitSpec `json:"take_profits,omitempty"`
	StopLossPct float64          `json:"stop_loss_pct,omitempty"` // 0 disables
	TrailPct    float64          `json:"trail_pct,omitempty"`     // 0 disables
	Tags        []string         `json:"tags,omitempty"`
}

// ExitConfig tunes the orders the engine builds for trigger exits.
type ExitConfig struct {
	SlippagePct float64                  // default 15
	MaxFee      float64                  // default 0.01
	PriorityFee float64                  // default 0.001
	Deadline    time.Duration            // default 2m
	Channel     domain.SubmissionChannel // default bundle
	RetryBudget int                      // default 3
}

func (c *ExitConfig) applyDefaults() {
	if c.SlippagePct <= 0 {
		c.SlippagePct = 15
	}
	if c.MaxFee <= 0 {
		c.MaxFee = 0.01
	}
	if c.PriorityFee <= 0 {
		c.PriorityFee = 0.001
	}
	if c.Deadline <= 0 {
		c.Deadline = 2 * time.Minute
	}
	if c.Channel == "" {
		c.Channel = domain.ChannelBundle
	}
	if c.RetryBudget < 1 {
		c.RetryBudget = 3
	}
}

// Engine ties the builder, coordinator, and position monitor together.
type Engine struct {
	builder *builder.Builder
	coord   *coordinator.Coordinator
	monitor *position.Monitor
	bus     *eventbus.Bus
	orders  storage.OrderStore
	logger  *log.Logger
	metrics *observability.Metrics
	exit    ExitConfig
}

// Options configures an Engine. Builder and Coordinator are required;
// Monitor is required for managed buys and trigger exits.
type Options struct {
	Builder     *builder.Builder
	Coordinator *coordinator.Coordinator
	Monitor     *position.Monitor
	Bus         *eventbus.Bus
	Orders      storage.OrderStore
	Logger      *log.Logger
	Metrics     *observability.Metrics
	Exit        ExitConfig
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Builder == nil || opts.Coordinator == nil {
		return nil, fmt.Errorf("builder and coordinator are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	exit := opts.Exit
	exit.applyDefaults()
	return &Engine{
		builder: opts.Builder,
		coord:   opts.Coordinator,
		monitor: opts.Monitor,
		bus:     opts.Bus,
		orders:  opts.Orders,
		logger:  logger,
		metrics: opts.Metrics,
		exit:    exit,
	}, nil
}

func validatePlan(plan *ManagePlan) error {
	if plan == nil {
		return nil
	}
	prev := 0.0
	for i, tp := range plan.TakeProfits {
		if tp.TriggerPct <= 0 {
			return fmt.Errorf("take-profit %d: trigger percent must be positive", i)
		}
		if tp.SellFraction <= 0 || tp.SellFraction > 1 {
			return fmt.Errorf("take-profit %d: sell fraction must be in (0,1]", i)
		}
		if tp.TriggerPct <= prev && i > 0 {
			return fmt.Errorf("take-profit ladder must be strictly ascending")
		}
		prev = tp.TriggerPct
	}
	if plan.StopLossPct < 0 || plan.TrailPct < 0 {
		return fmt.Errorf("stop percents must be non-negative")
	}
	return nil
}

// Buy builds and executes a buy order and, when a plan is given, opens
// a managed position for the confirmed fill.
func (e *Engine) Buy(ctx context.Context, req domain.OrderRequest, plan *ManagePlan) (*domain.Order, *domain.Position, error) {
	if err := validatePlan(plan); err != nil {
		return nil, nil, err
	}
	req.Side = domain.SideBuy

	order, err := e.builder.Build(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if e.metrics != nil {
		e.metrics.OrdersCreated.WithLabelValues(domain.SideBuy).Inc()
	}

	if err := e.coord.Execute(ctx, order); err != nil {
		return order, nil, err
	}

	if plan == nil || e.monitor == nil {
		return order, nil, nil
	}
	pos, err := e.openPosition(ctx, order, plan)
	if err != nil {
		// The buy itself confirmed; surface the order with the error.
		return order, nil, fmt.Errorf("open position for order %s: %w", order.ID, err)
	}
	return order, pos, nil
}

// Sell builds and executes a sell order.
func (e *Engine) Sell(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	req.Side = domain.SideSell

	order, err := e.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.OrdersCreated.WithLabelValues(domain.SideSell).Inc()
	}
	if err := e.coord.Execute(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// openPosition turns a confirmed buy into a tracked position.
func (e *Engine) openPosition(ctx context.Context, order *domain.Order, plan *ManagePlan) (*domain.Position, error) {
	if order.FilledOut <= 0 {
		return nil, fmt.Errorf("confirmed buy reported no fill amount")
	}
	req := order.Request
	entryPrice := req.AmountIn / order.FilledOut

	p := &domain.Position{
		ID:             uuid.NewString(),
		AccountID:      req.AccountID,
		Asset:          req.TargetAsset,
		BaseAsset:      req.SourceAsset,
		EntryAmountIn:  req.AmountIn,
		EntryAmountOut: order.FilledOut,
		EntryPrice:     entryPrice,
		EntryTxHash:    order.TxHash,
		EntryBlock:     order.InclusionBlock,
		Balance:        order.FilledOut,
		Valuation:      req.AmountIn,
		CurrentPrice:   entryPrice,
		State:          domain.PositionStateOpen,
		Tags:           append([]string(nil), plan.Tags...),
		OpenedAt:       time.Now(),
	}
	for _, tp := range plan.TakeProfits {
		p.TakeProfits = append(p.TakeProfits, &domain.TakeProfitTarget{
			TriggerPct:   tp.TriggerPct,
			SellFraction: tp.SellFraction,
		})
	}
	if plan.StopLossPct > 0 {
		p.StopLoss = &domain.StopLoss{TriggerPct: plan.StopLossPct}
	}
	if plan.TrailPct > 0 {
		p.TrailingStop = &domain.TrailingStop{TrailPct: plan.TrailPct, HighWaterMark: entryPrice}
	}

	if err := e.monitor.Track(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Exit sells a fraction of a position on behalf of the monitor.
func (e *Engine) Exit(ctx context.Context, p *domain.Position, fraction float64, reason string) (*position.ExitResult, error) {
	amountIn := p.Balance * fraction
	if amountIn <= 0 {
		return nil, fmt.Errorf("nothing to sell")
	}

	order, err := e.Sell(ctx, domain.OrderRequest{
		AccountID:   p.AccountID,
		SourceAsset: p.Asset,
		TargetAsset: p.BaseAsset,
		AmountIn:    amountIn,
		SlippagePct: e.exit.SlippagePct,
		Deadline:    time.Now().Add(e.exit.Deadline),
		MaxFee:      e.exit.MaxFee,
		PriorityFee: e.exit.PriorityFee,
		Channel:     e.exit.Channel,
		RetryBudget: e.exit.RetryBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("%s exit of position %s: %w", reason, p.ID, err)
	}
	return &position.ExitResult{
		TxHash:    order.TxHash,
		AmountIn:  amountIn,
		AmountOut: order.FilledOut,
	}, nil
}

// CancelOrder requests cancellation of an in-flight order.
func (e *Engine) CancelOrder(orderID string) {
	e.coord.Cancel(orderID)
}

// Order retrieves a persisted order.
func (e *Engine) Order(ctx context.Context, orderID string) (*domain.Order, error) {
	if e.orders == nil {
		return nil, fmt.Errorf("no order store configured")
	}
	return e.orders.GetByID(ctx, orderID)
}

// Positions lists tracked positions.
func (e *Engine) Positions() []*domain.Position {
	if e.monitor == nil {
		return nil
	}
	return e.monitor.List()
}

// Position retrieves one tracked position.
func (e *Engine) Position(id string) (*domain.Position, error) {
	if e.monitor == nil {
		return nil, fmt.Errorf("no position monitor configured")
	}
	return e.monitor.Get(id)
}

// ExitPosition manually sells a fraction of a tracked position.
func (e *Engine) ExitPosition(ctx context.Context, id string, fraction float64) error {
	if e.monitor == nil {
		return fmt.Errorf("no position monitor configured")
	}
	return e.monitor.ExitManual(ctx, id, fraction)
}

var _ position.Exiter = (*Engine)(nil)
