package validation

import (
	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// SignatureVerifier checks one party's signature over a content hash.
type SignatureVerifier interface {
	Verify(signature, contentHash string, signer contracts.Party) bool
}

// VerifySignatures checks signer completeness: the id matches the content and
// every required signer has attached a signature that verifies over it.
func VerifySignatures(stx contracts.SignedTransition, v SignatureVerifier) error {
	if err := stx.Tx.VerifyID(); err != nil {
		return &contracts.LedgerError{Kind: contracts.KindInvalidSignature, Rule: "transition id does not match content", Err: err}
	}
	for _, signer := range stx.Tx.RequiredSigners {
		sig, ok := stx.SignatureBy(signer)
		if !ok {
			return &contracts.LedgerError{Kind: contracts.KindAuthorizationViolation, Rule: "missing required signature", Party: signer.Name}
		}
		if !v.Verify(sig.Value, stx.Tx.ID, signer) {
			return &contracts.LedgerError{Kind: contracts.KindInvalidSignature, Rule: "signature does not verify", Party: signer.Name}
		}
	}
	return nil
}
