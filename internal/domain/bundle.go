package domain

// BundleState is the lifecycle state of a Bundle.
// Pending → Simulated → Submitted → Included | Failed. A failed
// simulation is terminal: the bundle is never submitted.
type BundleState string

// Bundle lifecycle states.
const (
	BundleStatePending   BundleState = "PENDING"
	BundleStateSimulated BundleState = "SIMULATED"
	BundleStateSubmitted BundleState = "SUBMITTED"
	BundleStateIncluded  BundleState = "INCLUDED"
	BundleStateFailed    BundleState = "FAILED"
)

// SignedTransaction is a fully signed transaction ready for submission.
type SignedTransaction struct {
	Raw       []byte // canonical signed payload
	Hash      string // base58 payload hash
	Sender    string // base58 sender address
	Recipient string // base58 recipient (execution venue router)
	Value     float64
	GasLimit  uint64
}

// Bundle is an ordered group of signed transactions submitted as one
// atomically simulated, atomically included unit.
type Bundle struct {
	ID           string
	Transactions []*SignedTransaction
	TargetBlock  uint64
	MinTimestamp int64 // optional validity window, unix seconds, 0 = unset
	MaxTimestamp int64
	State        BundleState
	Simulation   *SimulationResult
}

// TxOutcome is the simulated outcome of a single transaction in a bundle.
type TxOutcome struct {
	Hash     string
	Success  bool
	GasUsed  uint64
	Fee      float64
	AmountOut float64 // decoded output amount, 0 when the venue reports none
	Revert   string  // revert reason when Success is false
}

// SimulationResult is produced once per bundle and never mutated.
type SimulationResult struct {
	Success      bool
	Transactions []TxOutcome
	TotalGasUsed uint64
	TotalFee     float64
	Reason       string // failure reason when Success is false
}
