package domain

import "time"

// PositionState is the lifecycle state of a Position.
type PositionState string

// Position lifecycle states.
const (
	PositionStateOpen   PositionState = "OPEN"
	PositionStateClosed PositionState = "CLOSED"
)

// Exit reason codes recorded on trigger fires.
const (
	ExitReasonStopLoss     = "STOP_LOSS"
	ExitReasonTrailingStop = "TRAILING_STOP"
	ExitReasonTakeProfit   = "TAKE_PROFIT"
	ExitReasonManual       = "MANUAL"
)

// TakeProfitTarget is one rung of a take-profit ladder. Targets are
// ordered by trigger percent ascending and fire at most once. The sell
// fraction applies to the balance held at fire time, not the entry size.
type TakeProfitTarget struct {
	TriggerPct   float64 // unrealized gain percent that arms the target
	SellFraction float64 // fraction of current balance to sell, (0,1]
	Triggered    bool
	TriggeredAt  time.Time
	ExitTxHash   string
}

// StopLoss forces a full exit once unrealized loss reaches TriggerPct.
type StopLoss struct {
	TriggerPct  float64 // loss percent, positive number
	Triggered   bool
	TriggeredAt time.Time
	ExitTxHash  string
}

// TrailingStop forces a full exit on a drawdown from a tracked
// high-water mark. The mark is raised every valuation tick; the trigger
// level is always HighWaterMark * (1 - TrailPct/100).
type TrailingStop struct {
	TrailPct      float64
	HighWaterMark float64 // highest observed price since entry
	Triggered     bool
	TriggeredAt   time.Time
	ExitTxHash    string
}

// TriggerLevel returns the price at which the trailing stop fires.
func (t *TrailingStop) TriggerLevel() float64 {
	return t.HighWaterMark * (1 - t.TrailPct/100)
}

// Position tracks an open holding under automatic management.
type Position struct {
	ID        string
	AccountID string
	Asset     string // held asset
	BaseAsset string // asset positions are valued in

	EntryAmountIn  float64 // base spent at entry
	EntryAmountOut float64 // asset received at entry
	EntryPrice     float64 // EntryAmountIn / EntryAmountOut
	EntryTxHash    string
	EntryBlock     uint64

	Balance       float64 // live asset balance
	Valuation     float64 // live value of Balance in base asset
	CurrentPrice  float64 // Valuation / Balance
	UnrealizedPnL float64 // absolute, base asset units
	GainPct       float64 // unrealized gain percent relative to entry price
	RealizedPnL   float64 // cumulative, base asset units

	TakeProfits  []*TakeProfitTarget // ascending by TriggerPct
	StopLoss     *StopLoss
	TrailingStop *TrailingStop

	State    PositionState
	Tags     []string
	OpenedAt time.Time
	ClosedAt time.Time
	TickedAt time.Time // last valuation refresh
}

// Snapshot returns a deep copy safe to hand to subscribers.
func (p *Position) Snapshot() *Position {
	cp := *p
	cp.TakeProfits = make([]*TakeProfitTarget, len(p.TakeProfits))
	for i, tp := range p.TakeProfits {
		t := *tp
		cp.TakeProfits[i] = &t
	}
	if p.StopLoss != nil {
		sl := *p.StopLoss
		cp.StopLoss = &sl
	}
	if p.TrailingStop != nil {
		ts := *p.TrailingStop
		cp.TrailingStop = &ts
	}
	cp.Tags = append([]string(nil), p.Tags...)
	return &cp
}

// ValuationTick is one point of a position's recorded valuation history.
type ValuationTick struct {
	PositionID  string
	TimestampMs int64
	Balance     float64
	Valuation   float64
	Price       float64
	GainPct     float64
}

// ExecutionRecord is an append-only audit row, one per execution attempt.
type ExecutionRecord struct {
	ID          string
	OrderID     string
	Attempt     int
	BundleID    string
	TxHash      string
	TargetBlock uint64
	Channel     string
	Endpoint    string // relay that acknowledged, empty if none
	SimSuccess  bool
	SimGasUsed  uint64
	SimFee      float64
	Outcome     string // "confirmed" | "rejected" | "not_included" | ...
	Reason      string
	TimestampMs int64
}

// Execution record outcome codes.
const (
	ExecOutcomeConfirmed      = "confirmed"
	ExecOutcomeSimReverted    = "sim_reverted"
	ExecOutcomeRejected       = "rejected"
	ExecOutcomeNotIncluded    = "not_included"
	ExecOutcomeBuildFailed    = "build_failed"
	ExecOutcomeCanceled       = "canceled"
)
