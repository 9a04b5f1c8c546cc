package session

import "github.com/Mindburn-Labs/tokenledger/pkg/contracts"

// SignatureRequest asks a counterparty to countersign a transition. Tx
// carries at least the initiator's own signature.
type SignatureRequest struct {
	SessionID string                     `json:"session_id"`
	From      contracts.Party            `json:"from"`
	Version   string                     `json:"version"`
	Tx        contracts.SignedTransition `json:"tx"`
}

// SignatureOrRefusal is the counterparty's answer. Exactly one of Signature
// and Refusal is set.
type SignatureOrRefusal struct {
	SessionID string               `json:"session_id"`
	From      contracts.Party      `json:"from"`
	Signature *contracts.Signature `json:"signature,omitempty"`
	Refusal   string               `json:"refusal,omitempty"`
}

// Refused reports whether the counterparty declined to sign.
func (r SignatureOrRefusal) Refused() bool {
	return r.Signature == nil
}

// Sign builds an accepting reply.
func Sign(sessionID string, from contracts.Party, sig contracts.Signature) SignatureOrRefusal {
	return SignatureOrRefusal{SessionID: sessionID, From: from, Signature: &sig}
}

// Refuse builds a refusing reply.
func Refuse(sessionID string, from contracts.Party, reason string) SignatureOrRefusal {
	if reason == "" {
		reason = "refused"
	}
	return SignatureOrRefusal{SessionID: sessionID, From: from, Refusal: reason}
}

// FinalityNotice carries a notarized transition to a participant.
type FinalityNotice struct {
	From contracts.Party            `json:"from"`
	Tx   contracts.SignedTransition `json:"tx"`
}
