package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"onchain-executor/internal/domain"
)

// ErrAccountNotFound is returned for an unknown account id.
var ErrAccountNotFound = errors.New("account not found")

// SequenceReader reads an account's next unused sequence number from the
// ledger, counting pending transactions.
type SequenceReader interface {
	GetSequence(ctx context.Context, address string) (uint64, error)
}

// entry pairs an account with its own allocation lock so allocations for
// one account serialize without blocking other accounts.
type entry struct {
	mu      sync.Mutex
	account domain.ManagedAccount
	keypair *Keypair
}

// Registry owns managed accounts and issues strictly increasing sequence
// numbers per account. It is an owned value wired at startup, never a
// package-level singleton.
type Registry struct {
	reader SequenceReader

	mu       sync.RWMutex
	accounts map[string]*entry
}

// NewRegistry creates a registry reconciling allocations against reader.
func NewRegistry(reader SequenceReader) *Registry {
	return &Registry{
		reader:   reader,
		accounts: make(map[string]*entry),
	}
}

// Register adds a keypair under a fresh account id and returns the id.
func (r *Registry) Register(kp *Keypair, exclusive bool) (string, error) {
	if kp == nil {
		return "", fmt.Errorf("nil keypair")
	}
	addr := kp.Address()
	if !ValidAddress(addr) {
		return "", fmt.Errorf("public key for %s is not on curve", addr)
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.accounts[id] = &entry{
		account: domain.ManagedAccount{
			ID:        id,
			Address:   addr,
			Exclusive: exclusive,
		},
		keypair: kp,
	}
	r.mu.Unlock()
	return id, nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.accounts[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return e, nil
}

// Allocate returns a sequence number guaranteed unused by this process
// for the account. The cached counter is raised to the ledger's observed
// next sequence before incrementing, so externally caused gaps are
// absorbed. Callers for the same account serialize; different accounts
// allocate independently.
func (r *Registry) Allocate(ctx context.Context, id string) (uint64, error) {
	e, err := r.lookup(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	observed, err := r.reader.GetSequence(ctx, e.account.Address)
	if err != nil {
		return 0, fmt.Errorf("read sequence for %s: %w", e.account.Address, err)
	}

	next := observed
	if e.account.HasIssued && e.account.LastSequence+1 > next {
		next = e.account.LastSequence + 1
	}

	e.account.LastSequence = next
	e.account.HasIssued = true
	return next, nil
}

// Keypair returns the signing keypair for an account id.
func (r *Registry) Keypair(id string) (*Keypair, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.keypair, nil
}

// Account returns a snapshot of the managed account.
func (r *Registry) Account(id string) (domain.ManagedAccount, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.ManagedAccount{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account, nil
}

// Address returns the base58 address for an account id.
func (r *Registry) Address(id string) (string, error) {
	e, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return e.account.Address, nil
}
