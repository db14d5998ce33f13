package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeSequenceReader returns a fixed observed sequence per address.
type fakeSequenceReader struct {
	mu       sync.Mutex
	observed map[string]uint64
}

func (f *fakeSequenceReader) GetSequence(_ context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observed[address], nil
}

func (f *fakeSequenceReader) set(address string, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.observed == nil {
		f.observed = make(map[string]uint64)
	}
	f.observed[address] = n
}

func newTestRegistry(t *testing.T) (*Registry, *fakeSequenceReader, string, *Keypair) {
	t.Helper()
	reader := &fakeSequenceReader{}
	reg := NewRegistry(reader)

	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}
	id, err := reg.Register(kp, false)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return reg, reader, id, kp
}

func TestRegistry_AllocateSequential(t *testing.T) {
	reg, _, id, _ := newTestRegistry(t)
	ctx := context.Background()

	for want := uint64(0); want < 5; want++ {
		got, err := reg.Allocate(ctx, id)
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		if got != want {
			t.Errorf("Allocate = %d, want %d", got, want)
		}
	}
}

func TestRegistry_AllocateAbsorbsExternalGap(t *testing.T) {
	reg, reader, id, kp := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Allocate(ctx, id); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	// Another process consumed sequences 1..9 on the ledger.
	reader.set(kp.Address(), 10)

	got, err := reg.Allocate(ctx, id)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if got != 10 {
		t.Errorf("Allocate after external gap = %d, want 10", got)
	}
}

func TestRegistry_AllocateConcurrentUnique(t *testing.T) {
	reg, _, id, _ := newTestRegistry(t)
	ctx := context.Background()

	const n = 100
	results := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := reg.Allocate(ctx, id)
			if err != nil {
				t.Errorf("Allocate failed: %v", err)
				return
			}
			results <- seq
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool, n)
	for seq := range results {
		if seen[seq] {
			t.Fatalf("duplicate sequence %d issued under concurrency", seq)
		}
		seen[seq] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d unique sequences, got %d", n, len(seen))
	}
}

func TestRegistry_UnknownAccount(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	_, err := reg.Allocate(context.Background(), "nope")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRegistry_IndependentAccounts(t *testing.T) {
	reader := &fakeSequenceReader{}
	reg := NewRegistry(reader)
	ctx := context.Background()

	kpA, _ := NewKeypair()
	kpB, _ := NewKeypair()
	idA, _ := reg.Register(kpA, false)
	idB, _ := reg.Register(kpB, true)

	for i := 0; i < 3; i++ {
		if _, err := reg.Allocate(ctx, idA); err != nil {
			t.Fatalf("Allocate A failed: %v", err)
		}
	}

	seq, err := reg.Allocate(ctx, idB)
	if err != nil {
		t.Fatalf("Allocate B failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("account B first sequence = %d, want 0", seq)
	}
}
