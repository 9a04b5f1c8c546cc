package crypto

import (
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// KeyRing holds the private keys of the identities a process signs for and
// verifies signatures of any party from the public key the party carries.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[contracts.Party]Signer
}

// NewKeyRing creates a new empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{
		signers: make(map[contracts.Party]Signer),
	}
}

// Identity registers s under name and returns the party it signs for.
func (k *KeyRing) Identity(name string, s Signer) (contracts.Party, error) {
	p, err := contracts.NewParty(name, s.PublicKey())
	if err != nil {
		return contracts.Party{}, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[p] = s
	return p, nil
}

// Revoke forgets the private key of p.
func (k *KeyRing) Revoke(p contracts.Party) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, p)
}

// Sign signs contentHash as identity. It fails when the ring does not hold
// identity's key.
func (k *KeyRing) Sign(contentHash string, identity contracts.Party) (contracts.Signature, error) {
	k.mu.RLock()
	s, ok := k.signers[identity]
	k.mu.RUnlock()
	if !ok {
		return contracts.Signature{}, fmt.Errorf("no signing key for %s", identity)
	}
	sig, err := s.Sign([]byte(contentHash))
	if err != nil {
		return contracts.Signature{}, fmt.Errorf("sign as %s: %w", identity, err)
	}
	return contracts.Signature{Signer: identity, Value: sig}, nil
}

// Verify reports whether signature is identity's signature over contentHash.
// Malformed keys or signatures verify as false.
func (k *KeyRing) Verify(signature, contentHash string, identity contracts.Party) bool {
	ok, err := Verify(identity.PublicKey, signature, []byte(contentHash))
	return err == nil && ok
}
