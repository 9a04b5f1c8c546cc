package crypto

import "github.com/Mindburn-Labs/tokenledger/pkg/contracts"

// PartyVerifier checks signatures using only the public key carried by the
// signing party. Services that never sign for a party (the notary, archive
// readers) use it instead of a KeyRing.
type PartyVerifier struct{}

func (PartyVerifier) Verify(signature, contentHash string, identity contracts.Party) bool {
	ok, err := Verify(identity.PublicKey, signature, []byte(contentHash))
	return err == nil && ok
}
