// Package vault is a party's local record store. It tracks which records the
// party knows about, which of them are spent, and the finalized transitions
// that produced them.
//
// Available and spent records are only ever changed together, by
// RecordFinalized, so a record consumed by a finalized transition is never
// returned as an eligible input again.
package vault

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// ErrNotFound is returned when a reference or transaction is unknown.
var ErrNotFound = errors.New("vault: not found")

// Store is the record store a party's builder, initiator and responder use.
type Store interface {
	// Find resolves a record reference.
	Find(ctx context.Context, ref contracts.Ref) (contracts.StateAndRef, error)
	// IsSpent reports whether ref was consumed by a locally finalized transition.
	IsSpent(ctx context.Context, ref contracts.Ref) (bool, error)
	// RecordFinalized marks inputs spent and outputs available. Applying the
	// same transition twice is a no-op.
	RecordFinalized(ctx context.Context, stx contracts.SignedTransition) error
	// Transaction returns a finalized transition by id.
	Transaction(ctx context.Context, id string) (contracts.SignedTransition, error)
	// Unconsumed lists the unspent records owned by owner.
	Unconsumed(ctx context.Context, owner contracts.Party) ([]contracts.StateAndRef, error)
}

// Balance sums the unspent amount owner holds in currency.
func Balance(ctx context.Context, s Store, owner contracts.Party, currency contracts.Currency) (float64, error) {
	states, err := s.Unconsumed(ctx, owner)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, st := range states {
		if st.Record.Currency == currency {
			total += st.Record.Amount
		}
	}
	return total, nil
}
