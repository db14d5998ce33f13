package position

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"onchain-executor/internal/builder"
	"onchain-executor/internal/domain"
	"onchain-executor/internal/eventbus"
	"onchain-executor/internal/ledger"
	"onchain-executor/internal/observability"
	"onchain-executor/internal/storage"
)

// Default tuning.
const (
	DefaultTickInterval = 2 * time.Second
	DefaultSweepWorkers = 8

	// dustEpsilon is the balance below which a position counts as fully
	// exited.
	dustEpsilon = 1e-9
)

// ExitResult reports a completed exit sell.
type ExitResult struct {
	TxHash    string
	AmountIn  float64 // asset amount sold
	AmountOut float64 // base asset received
}

// Exiter executes exit sells on behalf of the monitor. The position
// argument is a snapshot; the monitor applies the bookkeeping itself.
type Exiter interface {
	Exit(ctx context.Context, p *domain.Position, fraction float64, reason string) (*ExitResult, error)
}

// ExiterFunc adapts a function to the Exiter interface, useful when
// the executing side is constructed after the monitor.
type ExiterFunc func(ctx context.Context, p *domain.Position, fraction float64, reason string) (*ExitResult, error)

// Exit calls f.
func (f ExiterFunc) Exit(ctx context.Context, p *domain.Position, fraction float64, reason string) (*ExitResult, error) {
	return f(ctx, p, fraction, reason)
}

// tracked pairs a position with its own lock so ticks for one position
// serialize without blocking the rest of the sweep.
type tracked struct {
	mu  sync.Mutex
	pos *domain.Position
}

// Monitor owns the open-position set. It revalues every tracked
// position on a fixed cadence and fires at most one exit trigger per
// position per tick.
type Monitor struct {
	quotes   builder.QuoteSource
	exiter   Exiter
	store    storage.PositionStore
	ticks    storage.ValuationTickStore
	bus      *eventbus.Bus
	logger   *log.Logger
	metrics  *observability.Metrics
	interval time.Duration
	workers  int

	mu      sync.RWMutex
	tracked map[string]*tracked
}

// Options configures a Monitor. Quotes is required; everything else is
// optional.
type Options struct {
	Quotes   builder.QuoteSource
	Exiter   Exiter
	Store    storage.PositionStore
	Ticks    storage.ValuationTickStore
	Bus      *eventbus.Bus
	Logger   *log.Logger
	Metrics  *observability.Metrics
	Interval time.Duration
	Workers  int
}

// NewMonitor creates a Monitor.
func NewMonitor(opts Options) (*Monitor, error) {
	if opts.Quotes == nil {
		return nil, fmt.Errorf("quote source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultSweepWorkers
	}
	return &Monitor{
		quotes:   opts.Quotes,
		exiter:   opts.Exiter,
		store:    opts.Store,
		ticks:    opts.Ticks,
		bus:      opts.Bus,
		logger:   logger,
		metrics:  opts.Metrics,
		interval: interval,
		workers:  workers,
		tracked:  make(map[string]*tracked),
	}, nil
}

func (m *Monitor) publish(t domain.EventType, p *domain.Position) {
	if m.bus != nil {
		m.bus.PublishPosition(t, p)
	}
}

func (m *Monitor) persist(ctx context.Context, p *domain.Position) {
	if m.store == nil {
		return
	}
	if err := m.store.Update(ctx, p); err != nil {
		m.logger.Printf("persist position %s: %v", p.ID, err)
	}
}

func (m *Monitor) track(p *domain.Position) {
	SortTakeProfits(p)
	m.mu.Lock()
	m.tracked[p.ID] = &tracked{pos: p}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.PositionsOpen.Inc()
	}
}

// Track registers a freshly opened position, persists it, and
// announces it.
func (m *Monitor) Track(ctx context.Context, p *domain.Position) error {
	if p.State == "" {
		p.State = domain.PositionStateOpen
	}
	m.track(p)
	if m.store != nil {
		if err := m.store.Insert(ctx, p); err != nil {
			m.logger.Printf("insert position %s: %v", p.ID, err)
		}
	}
	m.publish(domain.EventPositionOpened, p)
	m.logger.Printf("position %s opened: %.6f %s at %.8f", p.ID, p.Balance, p.Asset, p.EntryPrice)
	return nil
}

// Reload re-registers open positions from the store after a restart.
// No opened events are re-published.
func (m *Monitor) Reload(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	open, err := m.store.GetOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open positions: %w", err)
	}
	for _, p := range open {
		m.track(p)
	}
	return len(open), nil
}

func (m *Monitor) lookup(id string) (*tracked, error) {
	m.mu.RLock()
	tr, ok := m.tracked[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, storage.ErrNotFound)
	}
	return tr, nil
}

// Get returns a snapshot of a tracked position.
func (m *Monitor) Get(id string) (*domain.Position, error) {
	tr, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.pos.Snapshot(), nil
}

// List returns snapshots of all tracked positions.
func (m *Monitor) List() []*domain.Position {
	m.mu.RLock()
	trs := make([]*tracked, 0, len(m.tracked))
	for _, tr := range m.tracked {
		trs = append(trs, tr)
	}
	m.mu.RUnlock()

	out := make([]*domain.Position, 0, len(trs))
	for _, tr := range trs {
		tr.mu.Lock()
		out = append(out, tr.pos.Snapshot())
		tr.mu.Unlock()
	}
	return out
}

// Run sweeps all tracked positions on the configured cadence until ctx
// is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Printf("position monitor running, interval %s", m.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep ticks every tracked position concurrently, bounded by the
// worker limit. Errors are logged per position, never aborting the
// sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tracked))
	for id := range m.tracked {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, id := range ids {
		g.Go(func() error {
			if err := m.Tick(ctx, id); err != nil {
				m.logger.Printf("tick position %s: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Tick revalues one position and fires at most one trigger. Ticks for
// the same position serialize; a tick observing a closed position is a
// no-op.
func (m *Monitor) Tick(ctx context.Context, id string) error {
	tr, err := m.lookup(id)
	if err != nil {
		return err
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	p := tr.pos
	if p.State != domain.PositionStateOpen {
		return nil
	}

	valuation, err := m.quotes.Quote(ctx, ledger.Path{AssetIn: p.Asset, AssetOut: p.BaseAsset}, p.Balance)
	if err != nil {
		if m.metrics != nil {
			m.metrics.ValuationErrors.Inc()
		}
		return fmt.Errorf("value %s: %w", p.Asset, err)
	}
	if valuation <= 0 || p.Balance <= 0 {
		// No route this tick. Keep the last valuation rather than
		// treating the position as worthless.
		return nil
	}

	p.Valuation = valuation
	p.CurrentPrice = valuation / p.Balance
	p.UnrealizedPnL = valuation - p.EntryPrice*p.Balance
	p.GainPct = (p.CurrentPrice/p.EntryPrice - 1) * 100
	p.TickedAt = time.Now()
	UpdateHighWaterMark(p)

	if m.metrics != nil {
		m.metrics.ValuationTicks.Inc()
	}
	m.recordTick(ctx, p)

	if fire := EvaluateTriggers(p); fire != nil && m.exiter != nil {
		if err := m.applyExit(ctx, p, fire); err != nil {
			// The trigger stays unarmed; the next tick retries it.
			m.logger.Printf("exit %s of position %s: %v", fire.Reason, p.ID, err)
		}
	}

	m.persist(ctx, p)
	if p.State == domain.PositionStateClosed {
		m.publish(domain.EventPositionClosed, p)
		m.untrack(p.ID)
	} else {
		m.publish(domain.EventPositionUpdated, p)
	}
	return nil
}

// ExitManual sells a fraction of the position outside the trigger
// rules, at the operator's request.
func (m *Monitor) ExitManual(ctx context.Context, id string, fraction float64) error {
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("fraction must be in (0,1]")
	}
	tr, err := m.lookup(id)
	if err != nil {
		return err
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	p := tr.pos
	if p.State != domain.PositionStateOpen {
		return fmt.Errorf("position %s is closed", id)
	}
	if m.exiter == nil {
		return fmt.Errorf("no exiter configured")
	}

	if err := m.applyExit(ctx, p, &TriggerFire{Reason: domain.ExitReasonManual, Fraction: fraction}); err != nil {
		return fmt.Errorf("manual exit for %s: %w", id, err)
	}

	m.persist(ctx, p)
	if p.State == domain.PositionStateClosed {
		m.publish(domain.EventPositionClosed, p)
		m.untrack(p.ID)
	} else {
		m.publish(domain.EventPositionUpdated, p)
	}
	return nil
}

// applyExit executes the sell and applies balance and PnL bookkeeping.
// A failed exit leaves the trigger unarmed.
func (m *Monitor) applyExit(ctx context.Context, p *domain.Position, fire *TriggerFire) error {
	res, err := m.exiter.Exit(ctx, p.Snapshot(), fire.Fraction, fire.Reason)
	if err != nil {
		return err
	}

	now := time.Now()
	sold := res.AmountIn
	if sold <= 0 {
		sold = p.Balance * fire.Fraction
	}

	switch fire.Reason {
	case domain.ExitReasonStopLoss:
		p.StopLoss.Triggered = true
		p.StopLoss.TriggeredAt = now
		p.StopLoss.ExitTxHash = res.TxHash
	case domain.ExitReasonTrailingStop:
		p.TrailingStop.Triggered = true
		p.TrailingStop.TriggeredAt = now
		p.TrailingStop.ExitTxHash = res.TxHash
	case domain.ExitReasonTakeProfit:
		fire.Target.Triggered = true
		fire.Target.TriggeredAt = now
		fire.Target.ExitTxHash = res.TxHash
	}

	p.RealizedPnL += res.AmountOut - p.EntryPrice*sold
	p.Balance -= sold
	if p.Balance < dustEpsilon {
		p.Balance = 0
	}
	p.Valuation = p.Balance * p.CurrentPrice
	p.UnrealizedPnL = p.Valuation - p.EntryPrice*p.Balance

	if m.metrics != nil {
		m.metrics.PositionExits.WithLabelValues(fire.Reason).Inc()
	}
	m.logger.Printf("position %s: %s fired, sold %.6f %s for %.6f %s, tx %s",
		p.ID, fire.Reason, sold, p.Asset, res.AmountOut, p.BaseAsset, res.TxHash)

	if p.Balance == 0 {
		p.State = domain.PositionStateClosed
		p.ClosedAt = now
		if m.metrics != nil {
			m.metrics.PositionsOpen.Dec()
		}
	}
	return nil
}

func (m *Monitor) untrack(id string) {
	m.mu.Lock()
	delete(m.tracked, id)
	m.mu.Unlock()
}

// recordTick appends one valuation history row.
func (m *Monitor) recordTick(ctx context.Context, p *domain.Position) {
	if m.ticks == nil {
		return
	}
	tick := &domain.ValuationTick{
		PositionID:  p.ID,
		TimestampMs: p.TickedAt.UnixMilli(),
		Balance:     p.Balance,
		Valuation:   p.Valuation,
		Price:       p.CurrentPrice,
		GainPct:     p.GainPct,
	}
	if err := m.ticks.InsertBulk(ctx, []*domain.ValuationTick{tick}); err != nil {
		m.logger.Printf("record tick for position %s: %v", p.ID, err)
	}
}
