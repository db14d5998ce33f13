// Package ledger provides access to the account-based ledger through a
// single logical JSON-RPC endpoint. Multi-endpoint failover lives behind
// that endpoint and is not re-implemented here.
package ledger

import "context"

// Client is the read/write ledger surface the engine depends on.
type Client interface {
	// BroadcastTransaction submits a signed transaction to the public
	// network and returns its hash.
	BroadcastTransaction(ctx context.Context, raw []byte) (string, error)

	// GetSequence returns the next unused sequence number for an
	// account, counting pending transactions.
	GetSequence(ctx context.Context, address string) (uint64, error)

	// GetBalance returns an account's balance of the given asset.
	GetBalance(ctx context.Context, address, asset string) (float64, error)

	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetTransactionStatus looks up inclusion state by hash. A nil
	// status means the transaction is unknown to the ledger.
	GetTransactionStatus(ctx context.Context, hash string) (*TxStatus, error)
}

// QuoteClient is the read-only pricing surface of the execution venue.
type QuoteClient interface {
	// GetQuote returns the output amount for swapping amountIn along
	// path at current prices. Zero with nil error means no route.
	GetQuote(ctx context.Context, path Path, amountIn float64) (float64, error)
}

// Path identifies an execution route between two assets.
type Path struct {
	AssetIn  string
	AssetOut string
}

// TxStatus is the ledger's view of a submitted transaction.
type TxStatus struct {
	Hash        string
	Included    bool
	BlockNumber uint64
	Success     bool
	Fee         float64
	AmountOut   float64 // decoded swap output when the venue reports it
}

// FeeQuote is advisory fee-market data. The order builder clamps it to
// its own configured ceiling before use.
type FeeQuote struct {
	BaseFee     float64
	PriorityFee float64
	MaxFee      float64
}

// BlockHead is a new-block notification.
type BlockHead struct {
	Number    uint64
	Hash      string
	Timestamp int64 // unix seconds
}

// HeadSource delivers new block heads, used to pace inclusion polling.
type HeadSource interface {
	SubscribeNewHeads(ctx context.Context) (<-chan BlockHead, error)
}
