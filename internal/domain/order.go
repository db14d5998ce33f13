package domain

import "time"

// OrderState is the lifecycle state of an Order.
// Pending → Executing → Confirmed | Failed. A Failed order re-enters
// Executing on retry until its budget is exhausted; Confirmed and
// budget-exhausted Failed are terminal.
type OrderState string

// Order lifecycle states.
const (
	OrderStatePending   OrderState = "PENDING"
	OrderStateExecuting OrderState = "EXECUTING"
	OrderStateConfirmed OrderState = "CONFIRMED"
	OrderStateFailed    OrderState = "FAILED"
)

// Side of a trade.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// SubmissionChannel selects how a signed transaction reaches the network.
type SubmissionChannel string

// Submission channels, in fallback order.
const (
	ChannelBundle    SubmissionChannel = "bundle"     // private multi-tx bundle via relays
	ChannelPrivateTx SubmissionChannel = "private_tx" // private single-tx relay
	ChannelPublic    SubmissionChannel = "public"     // plain broadcast
)

// OrderRequest is a trade directive before it is built into an Order.
type OrderRequest struct {
	AccountID   string  // owning account in the wallet registry
	Side        string  // "buy" | "sell"
	SourceAsset string  // asset spent
	TargetAsset string  // asset acquired
	AmountIn    float64 // input amount in source asset units
	SlippagePct float64 // tolerated deviation from the quoted output, percent

	Deadline    time.Time // absolute validity bound for the transaction
	MaxFee      float64   // hard ceiling on the total fee, never exceeded
	PriorityFee float64   // ceiling on the priority fee

	Channel     SubmissionChannel // preferred submission channel
	SafetyCheck bool              // run the asset safety precondition
	RetryBudget int               // total execution attempts allowed
}

// Order is a built trade directive moving through execution.
type Order struct {
	ID      string
	Request OrderRequest
	State   OrderState

	ExpectedOut float64 // quoted output at build time
	MinOut      float64 // minimum accepted output after slippage

	MaxFee      float64 // effective fee ceiling after clamping
	PriorityFee float64 // effective priority fee after clamping

	Sequence    uint64 // assigned sequence number, valid once signed
	HasSequence bool
	Channel     SubmissionChannel // channel that carried the final submission
	TxHash      string            // transaction hash once signed

	InclusionBlock uint64 // block of confirmed inclusion
	FilledOut      float64
	RetryCount     int
	FailureReason  string

	CreatedAt   time.Time
	SubmittedAt time.Time
	ConfirmedAt time.Time
	Latency     time.Duration // ConfirmedAt − CreatedAt
}

// Terminal reports whether the order can no longer transition.
func (o *Order) Terminal() bool {
	if o.State == OrderStateConfirmed {
		return true
	}
	return o.State == OrderStateFailed && o.RetryCount >= o.Request.RetryBudget
}

// Snapshot returns a copy safe to hand to subscribers.
func (o *Order) Snapshot() *Order {
	cp := *o
	return &cp
}
