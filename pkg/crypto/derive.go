package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const derivationSalt = "tokenledger-party-kdf"

// DeriveSigner derives a party's Ed25519 key from a master seed so a whole
// network can be rebuilt with the same identities. The party name is the
// HKDF info, so every party gets an independent key.
func DeriveSigner(seed []byte, name string) (*Ed25519Signer, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("derive key for %q: empty master seed", name)
	}
	r := hkdf.New(sha256.New, seed, []byte(derivationSalt), []byte(name))
	partySeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, partySeed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(partySeed), name), nil
}

// NewSeed returns a random master seed.
func NewSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("seed generation failed: %w", err)
	}
	return seed, nil
}
