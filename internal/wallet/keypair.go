// Package wallet owns signing keys and per-account sequence allocation.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Keypair is an ed25519 signing key with its base58 address.
type Keypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{pub: pub, priv: priv}, nil
}

// KeypairFromSeed restores a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// KeypairFromBase58Seed restores a keypair from a base58-encoded seed,
// the format used in account config files.
func KeypairFromBase58Seed(encoded string) (*Keypair, error) {
	seed, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return KeypairFromSeed(seed)
}

// Address returns the base58-encoded public key.
func (k *Keypair) Address() string {
	return base58.Encode(k.pub)
}

// Sign signs msg with the private key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// Verify reports whether sig is a valid signature of msg by this key.
func (k *Keypair) Verify(msg, sig []byte) bool {
	return ed25519.Verify(k.pub, msg, sig)
}

// ValidAddress reports whether addr decodes to a 32-byte public key that
// lies on the ed25519 curve. Off-curve keys cannot sign and are rejected
// at registration time rather than at first use.
func ValidAddress(addr string) bool {
	raw, err := base58.Decode(addr)
	if err != nil {
		return false
	}
	if len(raw) != ed25519.PublicKeySize {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
