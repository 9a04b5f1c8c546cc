// Package notary is the ordering service. It accepts a fully signed
// transition only if none of its inputs was consumed by a different
// finalized transition, and returns a signed receipt for what it accepted.
package notary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
	"github.com/Mindburn-Labs/tokenledger/pkg/crypto"
	"github.com/Mindburn-Labs/tokenledger/pkg/validation"
)

// ErrNotFound is returned for receipts the notary never issued.
var ErrNotFound = errors.New("notary: not found")

// Service is what the commit protocol submits to.
type Service interface {
	// Submit returns the receipt for stx, or a ConsumedInputConflict
	// LedgerError naming the inputs another transition already consumed.
	Submit(ctx context.Context, stx contracts.SignedTransition) (contracts.NotaryReceipt, error)
}

// Notary is an in-process Service.
type Notary struct {
	identity   contracts.Party
	keys       *crypto.KeyRing
	uniqueness Uniqueness
	journal    *Journal
	verifier   validation.SignatureVerifier
	logger     *slog.Logger

	// commitMu orders consume+journal so sequence numbers follow commit order.
	commitMu sync.Mutex
	receipts sync.Map // tx id -> contracts.NotaryReceipt
}

// Option configures a Notary.
type Option func(*Notary)

// WithUniqueness replaces the in-memory consumed-input set.
func WithUniqueness(u Uniqueness) Option {
	return func(n *Notary) { n.uniqueness = u }
}

// WithJournal replaces the default journal.
func WithJournal(j *Journal) Option {
	return func(n *Notary) { n.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notary) { n.logger = l }
}

// New creates a notary signing receipts as identity. keys must hold
// identity's private key.
func New(identity contracts.Party, keys *crypto.KeyRing, opts ...Option) *Notary {
	n := &Notary{
		identity:   identity,
		keys:       keys,
		uniqueness: NewMemoryUniqueness(),
		journal:    NewJournal(),
		verifier:   crypto.PartyVerifier{},
		logger:     slog.Default().With("component", "notary"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Identity returns the notary party.
func (n *Notary) Identity() contracts.Party {
	return n.identity
}

// Journal exposes the commit log.
func (n *Notary) Journal() *Journal {
	return n.journal
}

// Submit checks that stx names this notary, is completely signed and passes
// Validate, then consumes its inputs and journals it. Resubmitting a
// notarized transition returns its original receipt.
func (n *Notary) Submit(ctx context.Context, stx contracts.SignedTransition) (contracts.NotaryReceipt, error) {
	if stx.Tx.Notary != n.identity {
		return contracts.NotaryReceipt{}, contracts.Errorf(contracts.KindAuthorizationViolation, "transition names notary %s", stx.Tx.Notary)
	}
	if err := validation.VerifySignatures(stx, n.verifier); err != nil {
		return contracts.NotaryReceipt{}, err
	}
	if err := validation.Validate(stx.Tx); err != nil {
		n.logger.WarnContext(ctx, "invalid transition rejected", "tx_id", stx.Tx.ID, "kind", contracts.KindOf(err))
		return contracts.NotaryReceipt{}, err
	}

	n.commitMu.Lock()
	defer n.commitMu.Unlock()

	if r, ok := n.receipts.Load(stx.Tx.ID); ok {
		return r.(contracts.NotaryReceipt), nil
	}

	conflicts, err := n.uniqueness.Consume(ctx, stx.Tx.ID, stx.Tx.InputRefs())
	if err != nil {
		return contracts.NotaryReceipt{}, fmt.Errorf("notarize %s: %w", stx.Tx.ID, err)
	}
	if len(conflicts) > 0 {
		n.logger.WarnContext(ctx, "double spend rejected", "tx_id", stx.Tx.ID, "conflicts", len(conflicts))
		return contracts.NotaryReceipt{}, contracts.ConflictError(conflicts)
	}

	entry, err := n.journal.Append(stx.Tx.ID, stx.Tx.InputRefs())
	if err != nil {
		return contracts.NotaryReceipt{}, fmt.Errorf("notarize %s: %w", stx.Tx.ID, err)
	}
	receipt := contracts.NotaryReceipt{
		TxID:        stx.Tx.ID,
		Sequence:    entry.Sequence,
		PrevHash:    entry.PrevHash,
		CommitHash:  entry.CommitHash,
		Notary:      n.identity,
		CommittedAt: entry.CommittedAt,
	}
	sig, err := n.keys.Sign(string(receipt.Payload()), n.identity)
	if err != nil {
		return contracts.NotaryReceipt{}, fmt.Errorf("sign receipt: %w", err)
	}
	receipt.Signature = sig.Value
	n.receipts.Store(stx.Tx.ID, receipt)

	n.logger.InfoContext(ctx, "transition notarized", "tx_id", stx.Tx.ID, "sequence", entry.Sequence, "intent", stx.Tx.Intent)
	return receipt, nil
}

// Receipt returns the receipt issued for txID.
func (n *Notary) Receipt(txID string) (contracts.NotaryReceipt, error) {
	r, ok := n.receipts.Load(txID)
	if !ok {
		return contracts.NotaryReceipt{}, fmt.Errorf("receipt %s: %w", txID, ErrNotFound)
	}
	return r.(contracts.NotaryReceipt), nil
}

// VerifyReceipt checks that r is the named notary's signed acceptance of tx.
func VerifyReceipt(r contracts.NotaryReceipt, tx contracts.Transition) error {
	if r.TxID != tx.ID {
		return contracts.Errorf(contracts.KindInvalidSignature, "receipt is for %s, not %s", r.TxID, tx.ID)
	}
	if r.Notary != tx.Notary {
		return contracts.Errorf(contracts.KindAuthorizationViolation, "receipt signed by %s, transition names %s", r.Notary, tx.Notary)
	}
	ok, err := crypto.Verify(r.Notary.PublicKey, r.Signature, r.Payload())
	if err != nil || !ok {
		return &contracts.LedgerError{Kind: contracts.KindInvalidSignature, Rule: "notary signature does not verify", Party: r.Notary.Name, Err: err}
	}
	return nil
}
