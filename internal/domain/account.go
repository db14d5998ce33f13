package domain

// ManagedAccount represents a signing account owned by the wallet registry.
// Mutated only by the registry's allocation path; never destroyed while
// orders are outstanding.
type ManagedAccount struct {
	ID           string // registry-assigned identifier
	Address      string // base58 public key
	LastSequence uint64 // last issued sequence number
	HasIssued    bool   // false until the first allocation
	Exclusive    bool   // reserved for a single strategy/caller
}
