package wallet

import (
	"bytes"
	"testing"
)

func TestKeypair_SignVerify(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}

	msg := []byte("swap 1.0 BASE for TOKEN")
	sig := kp.Sign(msg)

	if !kp.Verify(msg, sig) {
		t.Error("signature did not verify")
	}
	if kp.Verify([]byte("tampered"), sig) {
		t.Error("signature verified tampered message")
	}
}

func TestKeypair_FromSeedDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)

	a, err := KeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeypairFromSeed failed: %v", err)
	}
	b, err := KeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeypairFromSeed failed: %v", err)
	}

	if a.Address() != b.Address() {
		t.Errorf("same seed produced different addresses: %s vs %s", a.Address(), b.Address())
	}
}

func TestKeypair_FromSeedBadLength(t *testing.T) {
	if _, err := KeypairFromSeed([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short seed")
	}
}

func TestValidAddress(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}

	if !ValidAddress(kp.Address()) {
		t.Errorf("generated address %s reported invalid", kp.Address())
	}
	if ValidAddress("not-base58-!!!") {
		t.Error("garbage address reported valid")
	}
	if ValidAddress("abc") {
		t.Error("short address reported valid")
	}
}

func TestSignTransaction(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}
	router, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}

	tx, err := SignTransaction(kp, TxParams{
		Recipient:   router.Address(),
		Sequence:    3,
		SourceAsset: "BASE",
		TargetAsset: "TOKEN",
		AmountIn:    1.0,
		MinOut:      900,
		Deadline:    1700000000,
		MaxFee:      0.01,
		PriorityFee: 0.001,
		GasLimit:    200000,
	})
	if err != nil {
		t.Fatalf("SignTransaction failed: %v", err)
	}

	if tx.Sender != kp.Address() {
		t.Errorf("Sender = %s, want %s", tx.Sender, kp.Address())
	}
	if tx.Hash == "" {
		t.Error("empty tx hash")
	}
	if len(tx.Raw) == 0 {
		t.Error("empty raw payload")
	}

	// Same params must hash identically; a different sequence must not.
	again, err := SignTransaction(kp, TxParams{
		Recipient: router.Address(), Sequence: 4, SourceAsset: "BASE",
		TargetAsset: "TOKEN", AmountIn: 1.0, MinOut: 900,
		Deadline: 1700000000, MaxFee: 0.01, PriorityFee: 0.001, GasLimit: 200000,
	})
	if err != nil {
		t.Fatalf("SignTransaction failed: %v", err)
	}
	if again.Hash == tx.Hash {
		t.Error("different sequence produced identical hash")
	}
}

func TestSignTransaction_RequiresRecipient(t *testing.T) {
	kp, _ := NewKeypair()
	if _, err := SignTransaction(kp, TxParams{}); err == nil {
		t.Error("expected error for missing recipient")
	}
}
