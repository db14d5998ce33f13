// Package stub provides a deterministic in-memory ledger for tests and
// dry-run mode.
package stub

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"onchain-executor/internal/ledger"
)

// Ledger implements ledger.Client and ledger.QuoteClient in memory.
// Broadcast transactions are included on the next AdvanceBlock call.
type Ledger struct {
	mu        sync.Mutex
	block     uint64
	sequences map[string]uint64             // address -> next unused sequence
	balances  map[string]map[string]float64 // address -> asset -> balance
	prices    map[string]float64            // asset -> price in base asset
	statuses  map[string]*ledger.TxStatus   // hash -> status
	pending   []string                      // hashes awaiting inclusion

	// QuoteFn overrides price-map quoting when set.
	QuoteFn func(path ledger.Path, amountIn float64) (float64, error)
	// IncludeFn decides per pending hash whether AdvanceBlock includes
	// it. Nil means include everything.
	IncludeFn func(hash string) bool
}

// New creates an empty stub ledger at block 0.
func New() *Ledger {
	return &Ledger{
		sequences: make(map[string]uint64),
		balances:  make(map[string]map[string]float64),
		prices:    make(map[string]float64),
		statuses:  make(map[string]*ledger.TxStatus),
	}
}

// SetBalance sets an account's balance for an asset.
func (l *Ledger) SetBalance(address, asset string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[address] == nil {
		l.balances[address] = make(map[string]float64)
	}
	l.balances[address][asset] = amount
}

// SetPrice sets an asset's price in base-asset units for quoting.
func (l *Ledger) SetPrice(asset string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prices[asset] = price
}

// SetSequence overrides an account's observed sequence.
func (l *Ledger) SetSequence(address string, seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sequences[address] = seq
}

// AdvanceBlock includes pending transactions and bumps the block number.
// Returns the new block number.
func (l *Ledger) AdvanceBlock() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.block++
	var remaining []string
	for _, hash := range l.pending {
		if l.IncludeFn != nil && !l.IncludeFn(hash) {
			remaining = append(remaining, hash)
			continue
		}
		if st, ok := l.statuses[hash]; ok {
			st.Included = true
			st.Success = true
			st.BlockNumber = l.block
		}
	}
	l.pending = remaining
	return l.block
}

// BroadcastTransaction accepts a raw transaction into the pending set.
func (l *Ledger) BroadcastTransaction(_ context.Context, raw []byte) (string, error) {
	sum := sha256.Sum256(raw)
	hash := base58.Encode(sum[:])

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.statuses[hash]; !ok {
		l.statuses[hash] = &ledger.TxStatus{Hash: hash}
		l.pending = append(l.pending, hash)
	}
	return hash, nil
}

// MarkIncluded marks a hash as included with the given output amount,
// consuming the sender's sequence number.
func (l *Ledger) MarkIncluded(hash, sender string, amountOut float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.statuses[hash]
	if !ok {
		st = &ledger.TxStatus{Hash: hash}
		l.statuses[hash] = st
	}
	st.Included = true
	st.Success = true
	st.BlockNumber = l.block
	st.AmountOut = amountOut
	if sender != "" {
		l.sequences[sender]++
	}
}

// GetSequence returns the account's next unused sequence number.
func (l *Ledger) GetSequence(_ context.Context, address string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequences[address], nil
}

// GetBalance returns the account's balance for an asset.
func (l *Ledger) GetBalance(_ context.Context, address, asset string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address][asset], nil
}

// GetBlockNumber returns the current block number.
func (l *Ledger) GetBlockNumber(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block, nil
}

// GetTransactionStatus returns the status for a hash, nil if unknown.
func (l *Ledger) GetTransactionStatus(_ context.Context, hash string) (*ledger.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.statuses[hash]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// GetQuote quotes amountIn along path from the price map, or via
// QuoteFn when set. Unknown assets quote to zero.
func (l *Ledger) GetQuote(_ context.Context, path ledger.Path, amountIn float64) (float64, error) {
	if l.QuoteFn != nil {
		return l.QuoteFn(path, amountIn)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	priceIn, okIn := l.priceOf(path.AssetIn)
	priceOut, okOut := l.priceOf(path.AssetOut)
	if !okIn || !okOut || priceOut == 0 {
		return 0, nil
	}
	return amountIn * priceIn / priceOut, nil
}

// priceOf treats the base asset as price 1.0.
func (l *Ledger) priceOf(asset string) (float64, bool) {
	if p, ok := l.prices[asset]; ok {
		return p, true
	}
	if asset == "BASE" {
		return 1.0, true
	}
	return 0, false
}

// EstimateFees returns a flat advisory fee quote.
func (l *Ledger) EstimateFees(_ context.Context, urgency string) (*ledger.FeeQuote, error) {
	switch urgency {
	case "low":
		return &ledger.FeeQuote{BaseFee: 0.00001, PriorityFee: 0, MaxFee: 0.0001}, nil
	case "high":
		return &ledger.FeeQuote{BaseFee: 0.00001, PriorityFee: 0.001, MaxFee: 0.01}, nil
	default:
		return &ledger.FeeQuote{BaseFee: 0.00001, PriorityFee: 0.0001, MaxFee: 0.001}, nil
	}
}

// Compile-time interface checks.
var (
	_ ledger.Client      = (*Ledger)(nil)
	_ ledger.QuoteClient = (*Ledger)(nil)
)

// String describes the ledger state for test logging.
func (l *Ledger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("stub ledger: block=%d pending=%d txs=%d", l.block, len(l.pending), len(l.statuses))
}
