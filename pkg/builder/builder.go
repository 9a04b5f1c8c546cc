// Package builder assembles candidate transitions for the five intents.
//
// Outputs are computed so that they satisfy the validation rules by
// construction, and every built transition is run through validation before
// it is returned: an invalid transition never leaves the builder.
package builder

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
	"github.com/Mindburn-Labs/tokenledger/pkg/validation"
)

// RecordSource resolves input references. vault.Store satisfies it.
type RecordSource interface {
	Find(ctx context.Context, ref contracts.Ref) (contracts.StateAndRef, error)
	IsSpent(ctx context.Context, ref contracts.Ref) (bool, error)
}

// Builder builds transitions initiated by self.
type Builder struct {
	self    contracts.Party
	notary  contracts.Party
	records RecordSource
	rates   *RateTable
	nonce   func() string
}

// New creates a builder. A nil rates table means DefaultRates.
func New(self, notary contracts.Party, records RecordSource, rates *RateTable) *Builder {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Builder{
		self:    self,
		notary:  notary,
		records: records,
		rates:   rates,
		nonce:   uuid.NewString,
	}
}

// WithNonce overrides nonce generation for testing.
func (b *Builder) WithNonce(nonce func() string) *Builder {
	b.nonce = nonce
	return b
}

// Rates returns the exchange rate table used by Swap.
func (b *Builder) Rates() *RateTable {
	return b.rates
}

// round2 rounds to currency precision.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Issue creates amount of currency owned by owner, issued by self.
func (b *Builder) Issue(owner contracts.Party, amount float64, currency contracts.Currency) (contracts.Transition, error) {
	if owner.IsZero() {
		return contracts.Transition{}, contracts.NewError(contracts.KindInvalidArgument, "owner is required")
	}
	return b.finish(contracts.Transition{
		Intent:          contracts.IntentIssue,
		Outputs:         []contracts.Record{{Issuer: b.self, Owner: owner, Amount: amount, Currency: currency}},
		RequiredSigners: contracts.DistinctParties(b.self, owner),
	})
}

// Move hands the record at ref to newOwner unchanged otherwise.
func (b *Builder) Move(ctx context.Context, ref contracts.Ref, newOwner contracts.Party) (contracts.Transition, error) {
	if newOwner.IsZero() {
		return contracts.Transition{}, contracts.NewError(contracts.KindInvalidArgument, "new owner is required")
	}
	inputs, err := b.resolve(ctx, ref)
	if err != nil {
		return contracts.Transition{}, err
	}
	in := inputs[0].Record
	return b.finish(contracts.Transition{
		Intent:          contracts.IntentMove,
		Inputs:          inputs,
		Outputs:         []contracts.Record{in.WithOwner(newOwner)},
		RequiredSigners: contracts.DistinctParties(in.Issuer, in.Owner, newOwner),
	})
}

// Split divides the record at ref in two. The first part is the input
// amount times ratio rounded to two decimals; the second is the exact
// remainder, so the parts always sum to the input.
func (b *Builder) Split(ctx context.Context, ref contracts.Ref, ratio float64) (contracts.Transition, error) {
	if !(ratio > 0 && ratio < 1) {
		return contracts.Transition{}, contracts.Errorf(contracts.KindInvalidArgument, "split ratio %v must be in (0, 1)", ratio)
	}
	inputs, err := b.resolve(ctx, ref)
	if err != nil {
		return contracts.Transition{}, err
	}
	in := inputs[0].Record
	amount1 := round2(in.Amount * ratio)
	amount2 := in.Amount - amount1
	return b.finish(contracts.Transition{
		Intent: contracts.IntentSplit,
		Inputs: inputs,
		Outputs: []contracts.Record{
			{Issuer: b.self, Owner: b.self, Amount: amount1, Currency: in.Currency},
			{Issuer: b.self, Owner: b.self, Amount: amount2, Currency: in.Currency},
		},
		RequiredSigners: in.Participants(),
	})
}

// Join merges two records of the same owner and currency.
func (b *Builder) Join(ctx context.Context, ref1, ref2 contracts.Ref) (contracts.Transition, error) {
	if ref1 == ref2 {
		return contracts.Transition{}, contracts.Errorf(contracts.KindInvalidArgument, "cannot join %s with itself", ref1)
	}
	inputs, err := b.resolve(ctx, ref1, ref2)
	if err != nil {
		return contracts.Transition{}, err
	}
	in1, in2 := inputs[0].Record, inputs[1].Record
	if in1.Currency != in2.Currency {
		return contracts.Transition{}, contracts.NewError(contracts.KindCurrencyMismatch, "currency type must be same")
	}
	if in1.Owner != in2.Owner {
		return contracts.Transition{}, contracts.NewError(contracts.KindAuthorizationViolation, "owners must be same")
	}
	return b.finish(contracts.Transition{
		Intent: contracts.IntentJoin,
		Inputs: inputs,
		Outputs: []contracts.Record{
			{Issuer: b.self, Owner: b.self, Amount: in1.Amount + in2.Amount, Currency: in1.Currency},
		},
		RequiredSigners: contracts.DistinctParties(in1.Issuer, in1.Owner, in2.Issuer, in2.Owner),
	})
}

// Swap exchanges value between the owners of ref1 and ref2. desired is the
// amount of ref2's currency the owner of ref1 receives; the owner of ref2
// receives its counter-value in ref1's currency at the table rate. Whatever
// each side does not give away comes back to it as a leftover record.
func (b *Builder) Swap(ctx context.Context, ref1, ref2 contracts.Ref, desired float64) (contracts.Transition, error) {
	if !(desired > 0) {
		return contracts.Transition{}, contracts.Errorf(contracts.KindInvalidArgument, "desired amount %v must be positive", desired)
	}
	if ref1 == ref2 {
		return contracts.Transition{}, contracts.Errorf(contracts.KindInvalidArgument, "cannot swap %s with itself", ref1)
	}
	inputs, err := b.resolve(ctx, ref1, ref2)
	if err != nil {
		return contracts.Transition{}, err
	}
	in1, in2 := inputs[0].Record, inputs[1].Record
	if in1.Currency == in2.Currency {
		return contracts.Transition{}, contracts.NewError(contracts.KindCurrencyMismatch, "currency type must be different")
	}
	rate, err := b.rates.Rate(in1.Currency, in2.Currency)
	if err != nil {
		return contracts.Transition{}, err
	}

	if available := round2(in1.Amount * rate); available < desired {
		return contracts.Transition{}, contracts.InsufficientFundsError(
			fmt.Sprintf("%s input is worth too little %s", in1.Currency, in2.Currency), desired, available)
	}
	if in2.Amount < desired {
		return contracts.Transition{}, contracts.InsufficientFundsError(
			fmt.Sprintf("not enough %s", in2.Currency), desired, in2.Amount)
	}

	give1 := round2(desired / rate)
	if !(give1 > 0) {
		return contracts.Transition{}, contracts.Errorf(contracts.KindInvalidArgument, "desired amount %v is below %s precision", desired, in1.Currency)
	}
	if give1 > in1.Amount+validation.Epsilon {
		return contracts.Transition{}, contracts.InsufficientFundsError(
			fmt.Sprintf("not enough %s", in1.Currency), give1, in1.Amount)
	}

	outputs := []contracts.Record{{Issuer: b.self, Owner: in2.Owner, Amount: give1, Currency: in1.Currency}}
	if left := in1.Amount - give1; left > validation.Epsilon {
		outputs = append(outputs, contracts.Record{Issuer: b.self, Owner: in1.Owner, Amount: left, Currency: in1.Currency})
	}
	outputs = append(outputs, contracts.Record{Issuer: in2.Owner, Owner: in1.Owner, Amount: desired, Currency: in2.Currency})
	if left := in2.Amount - desired; left > validation.Epsilon {
		outputs = append(outputs, contracts.Record{Issuer: in2.Owner, Owner: in2.Owner, Amount: left, Currency: in2.Currency})
	}

	return b.finish(contracts.Transition{
		Intent:          contracts.IntentSwap,
		Inputs:          inputs,
		Outputs:         outputs,
		RequiredSigners: contracts.DistinctParties(in1.Owner, in2.Owner, in1.Issuer, in2.Issuer),
	})
}

// resolve fetches refs, refusing any the local vault already knows as spent.
func (b *Builder) resolve(ctx context.Context, refs ...contracts.Ref) ([]contracts.StateAndRef, error) {
	var spent []contracts.Ref
	states := make([]contracts.StateAndRef, 0, len(refs))
	for _, ref := range refs {
		isSpent, err := b.records.IsSpent(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("check input %s: %w", ref, err)
		}
		if isSpent {
			spent = append(spent, ref)
			continue
		}
		st, err := b.records.Find(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve input %s: %w", ref, err)
		}
		states = append(states, st)
	}
	if len(spent) > 0 {
		return nil, contracts.ConflictError(spent)
	}
	return states, nil
}

func (b *Builder) finish(tx contracts.Transition) (contracts.Transition, error) {
	tx.Notary = b.notary
	tx.Nonce = b.nonce()
	sealed, err := tx.Seal()
	if err != nil {
		return contracts.Transition{}, err
	}
	if err := validation.Validate(sealed); err != nil {
		return contracts.Transition{}, err
	}
	return sealed, nil
}
