package contracts

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/tokenledger/pkg/merkle"
)

// Transition is a candidate or finalized state change: it consumes Inputs,
// produces Outputs, and declares the Intent that governs the rules checked.
//
// ID is the Merkle root over the other fields and is the content hash every
// required signer signs. It is empty until Seal is called.
type Transition struct {
	ID              string        `json:"id"`
	Intent          Intent        `json:"intent"`
	Inputs          []StateAndRef `json:"inputs"`
	Outputs         []Record      `json:"outputs"`
	RequiredSigners []Party       `json:"required_signers"`
	Notary          Party         `json:"notary"`
	Nonce           string        `json:"nonce"`
}

func (t Transition) components() map[string]interface{} {
	inputs := t.Inputs
	if inputs == nil {
		inputs = []StateAndRef{}
	}
	outputs := t.Outputs
	if outputs == nil {
		outputs = []Record{}
	}
	signers := t.RequiredSigners
	if signers == nil {
		signers = []Party{}
	}
	return map[string]interface{}{
		"inputs":  inputs,
		"outputs": outputs,
		"intent":  t.Intent,
		"signers": signers,
		"notary":  t.Notary,
		"nonce":   t.Nonce,
	}
}

// ComputeID returns the Merkle root of the transition's components.
func (t Transition) ComputeID() (string, error) {
	root, err := merkle.Root(t.components())
	if err != nil {
		return "", fmt.Errorf("compute transition id: %w", err)
	}
	return root, nil
}

// Seal returns a copy of t with ID set from its content.
func (t Transition) Seal() (Transition, error) {
	id, err := t.ComputeID()
	if err != nil {
		return Transition{}, err
	}
	t.ID = id
	return t, nil
}

// VerifyID checks that ID matches the content.
func (t Transition) VerifyID() error {
	id, err := t.ComputeID()
	if err != nil {
		return err
	}
	if t.ID == "" || id != t.ID {
		return fmt.Errorf("transition id mismatch: declared %q, computed %q", t.ID, id)
	}
	return nil
}

// ProveComponent returns an inclusion proof for one component group of the
// sealed transition: "inputs", "outputs", "intent", "signers", "notary" or
// "nonce". It lets a party disclose e.g. the outputs without the inputs.
func (t Transition) ProveComponent(name string) (merkle.InclusionProof, error) {
	tree, err := merkle.BuildMerkleTree(t.components())
	if err != nil {
		return merkle.InclusionProof{}, err
	}
	if t.ID == "" || tree.Root != t.ID {
		return merkle.InclusionProof{}, fmt.Errorf("prove %s: transition is not sealed", name)
	}
	return tree.Prove(name)
}

// VerifyComponent checks that value is the named component of the
// transition identified by txID.
func VerifyComponent(txID, name string, value interface{}, proof merkle.InclusionProof) error {
	if proof.LeafPath != name {
		return fmt.Errorf("proof is for %q, not %q", proof.LeafPath, name)
	}
	leaf, err := merkle.LeafHash(name, value)
	if err != nil {
		return err
	}
	if leaf != proof.LeafHash {
		return fmt.Errorf("%s does not match the proven component", name)
	}
	if !merkle.VerifyInclusionProof(proof, txID) {
		return fmt.Errorf("%s is not part of transition %s", name, txID)
	}
	return nil
}

// InputRefs returns the references of the consumed records.
func (t Transition) InputRefs() []Ref {
	refs := make([]Ref, len(t.Inputs))
	for i, in := range t.Inputs {
		refs[i] = in.Ref
	}
	return refs
}

// OutputRef returns the reference output i will have once committed.
func (t Transition) OutputRef(i int) Ref {
	return Ref{TxID: t.ID, Index: i}
}

// OutputStates pairs every output with its reference.
func (t Transition) OutputStates() []StateAndRef {
	out := make([]StateAndRef, len(t.Outputs))
	for i, r := range t.Outputs {
		out[i] = StateAndRef{Ref: t.OutputRef(i), Record: r}
	}
	return out
}

// Participants returns every distinct issuer and owner across inputs and
// outputs. These are the parties that must learn about the transition.
func (t Transition) Participants() []Party {
	parties := make([]Party, 0, 2*(len(t.Inputs)+len(t.Outputs)))
	for _, in := range t.Inputs {
		parties = append(parties, in.Record.Issuer, in.Record.Owner)
	}
	for _, out := range t.Outputs {
		parties = append(parties, out.Issuer, out.Owner)
	}
	return distinctParties(parties...)
}

// IsRequiredSigner reports whether p must sign t.
func (t Transition) IsRequiredSigner(p Party) bool {
	return ContainsParty(t.RequiredSigners, p)
}

// Signature is one party's signature over a transition id.
type Signature struct {
	Signer Party  `json:"signer"`
	Value  string `json:"value"` // hex-encoded
}

// NotaryReceipt is the ordering service's signed acceptance of a transition.
type NotaryReceipt struct {
	TxID        string    `json:"tx_id"`
	Sequence    uint64    `json:"sequence"`
	PrevHash    string    `json:"prev_hash"`
	CommitHash  string    `json:"commit_hash"`
	Notary      Party     `json:"notary"`
	Signature   string    `json:"signature"`
	CommittedAt time.Time `json:"committed_at"`
}

// Payload is the byte string the notary signs.
func (r NotaryReceipt) Payload() []byte {
	return []byte(fmt.Sprintf("%s:%d:%s", r.TxID, r.Sequence, r.CommitHash))
}

// SignedTransition is a transition plus the signatures collected so far and,
// once notarized, the notary receipt.
type SignedTransition struct {
	Tx         Transition     `json:"tx"`
	Signatures []Signature    `json:"signatures"`
	Receipt    *NotaryReceipt `json:"receipt,omitempty"`
}

// WithSignature returns a copy with sig added, replacing any earlier
// signature by the same signer.
func (s SignedTransition) WithSignature(sig Signature) SignedTransition {
	sigs := make([]Signature, 0, len(s.Signatures)+1)
	for _, existing := range s.Signatures {
		if existing.Signer != sig.Signer {
			sigs = append(sigs, existing)
		}
	}
	s.Signatures = append(sigs, sig)
	return s
}

// SignatureBy returns the signature p attached, if any.
func (s SignedTransition) SignatureBy(p Party) (Signature, bool) {
	for _, sig := range s.Signatures {
		if sig.Signer == p {
			return sig, true
		}
	}
	return Signature{}, false
}

// MissingSigners lists required signers with no signature attached.
func (s SignedTransition) MissingSigners() []Party {
	var missing []Party
	for _, p := range s.Tx.RequiredSigners {
		if _, ok := s.SignatureBy(p); !ok {
			missing = append(missing, p)
		}
	}
	return missing
}
