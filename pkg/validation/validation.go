// Package validation decides whether a proposed transition is legal.
//
// Validate is a pure function of the transition: no I/O and no state carried
// between calls. Every party runs it independently before countersigning, so
// the same transition must get the same verdict everywhere.
package validation

import (
	"math"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// Epsilon is the absolute tolerance for amount equality. Amounts may come
// from division (split ratios, exchange rates), so exact comparison would
// reject legitimate transitions.
const Epsilon = 0.00001

type rule func(tx contracts.Transition) error

// rules maps every intent to its checks.
type rules struct{}

func (rules) Issue() rule { return validateIssue }
func (rules) Move() rule  { return validateMove }
func (rules) Split() rule { return validateSplit }
func (rules) Join() rule  { return validateJoin }
func (rules) Swap() rule  { return validateSwap }

// Validate returns nil when tx is legal for its declared intent, otherwise a
// *contracts.LedgerError naming the violated rule.
func Validate(tx contracts.Transition) error {
	check, err := contracts.MatchIntent[rule](tx.Intent, rules{})
	if err != nil {
		return contracts.Errorf(contracts.KindShapeViolation, "unknown intent %q", tx.Intent)
	}
	if err := check(tx); err != nil {
		return err
	}
	return requireSignersAreParticipants(tx)
}

// ApproxEqual reports whether a and b are equal within Epsilon.
func ApproxEqual(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

func validateIssue(tx contracts.Transition) error {
	if len(tx.Inputs) != 0 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be no input states")
	}
	if len(tx.Outputs) != 1 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be one output state")
	}
	if err := requireKnownCurrencies(tx); err != nil {
		return err
	}

	out := tx.Outputs[0]
	if err := requirePositive(out); err != nil {
		return err
	}

	return requireSigner(tx, out.Issuer, "issuer must be required signer")
}

// validateMove enforces preservation of amount, currency and issuer and
// requires the current owner's agreement.
func validateMove(tx contracts.Transition) error {
	if len(tx.Inputs) != 1 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be one input state")
	}
	if len(tx.Outputs) != 1 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be one output state")
	}
	if err := requireKnownCurrencies(tx); err != nil {
		return err
	}

	in := tx.Inputs[0].Record
	out := tx.Outputs[0]
	if err := requirePositive(out); err != nil {
		return err
	}
	if out.Currency != in.Currency {
		return contracts.NewError(contracts.KindCurrencyMismatch, "currency must be preserved")
	}
	if out.Issuer != in.Issuer {
		return contracts.NewError(contracts.KindAuthorizationViolation, "issuer must be preserved")
	}
	if !ApproxEqual(out.Amount, in.Amount) {
		return contracts.ConservationError("amount must be preserved", in.Amount, out.Amount)
	}

	return requireSigner(tx, in.Owner, "owner must be required signer")
}

func validateSplit(tx contracts.Transition) error {
	if len(tx.Inputs) != 1 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be one input state")
	}
	if len(tx.Outputs) != 2 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be two output states")
	}
	if err := requireKnownCurrencies(tx); err != nil {
		return err
	}

	in := tx.Inputs[0].Record
	for _, out := range tx.Outputs {
		if err := requirePositive(out); err != nil {
			return err
		}
		if out.Currency != in.Currency {
			return contracts.NewError(contracts.KindCurrencyMismatch, "split outputs must keep the input currency")
		}
	}

	sum := tx.Outputs[0].Amount + tx.Outputs[1].Amount
	if !ApproxEqual(sum, in.Amount) {
		return contracts.ConservationError("amount should be the same", in.Amount, sum)
	}

	return requireSigner(tx, in.Owner, "owner must be required signer")
}

func validateJoin(tx contracts.Transition) error {
	if len(tx.Inputs) != 2 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be two input states")
	}
	if len(tx.Outputs) != 1 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be one output state")
	}
	if err := requireKnownCurrencies(tx); err != nil {
		return err
	}

	out := tx.Outputs[0]
	if err := requirePositive(out); err != nil {
		return err
	}

	in1, in2 := tx.Inputs[0].Record, tx.Inputs[1].Record
	if in1.Currency != in2.Currency {
		return contracts.NewError(contracts.KindCurrencyMismatch, "currency type must be same")
	}
	if in1.Owner != in2.Owner {
		return contracts.NewError(contracts.KindAuthorizationViolation, "owners must be same")
	}
	if out.Currency != in1.Currency {
		return contracts.NewError(contracts.KindCurrencyMismatch, "join output must keep the input currency")
	}

	sum := in1.Amount + in2.Amount
	if !ApproxEqual(out.Amount, sum) {
		return contracts.ConservationError("amount should be the same", sum, out.Amount)
	}

	return requireSigner(tx, in1.Owner, "owner must be required signer")
}

// validateSwap checks conservation separately for each of the two input
// currencies. The per-currency totals are local to this call.
func validateSwap(tx contracts.Transition) error {
	if len(tx.Inputs) != 2 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be two input states")
	}
	if len(tx.Outputs) < 2 || len(tx.Outputs) > 4 {
		return contracts.NewError(contracts.KindShapeViolation, "there must be from two to four output states")
	}
	if err := requireKnownCurrencies(tx); err != nil {
		return err
	}

	totals := make(map[contracts.Currency]float64, 2)
	for _, out := range tx.Outputs {
		if err := requirePositive(out); err != nil {
			return err
		}
		totals[out.Currency] += out.Amount
	}

	in1, in2 := tx.Inputs[0].Record, tx.Inputs[1].Record
	if in1.Currency == in2.Currency {
		return contracts.NewError(contracts.KindCurrencyMismatch, "currency type must be different")
	}
	for c := range totals {
		if c != in1.Currency && c != in2.Currency {
			return contracts.Errorf(contracts.KindCurrencyMismatch, "output currency %s is not consumed by the swap", c)
		}
	}

	for _, in := range []contracts.Record{in1, in2} {
		if !ApproxEqual(totals[in.Currency], in.Amount) {
			return contracts.ConservationError("amount should be the same for "+in.Currency.String(), in.Amount, totals[in.Currency])
		}
	}

	if err := requireSigner(tx, in1.Owner, "owner 1 must be required signer"); err != nil {
		return err
	}
	return requireSigner(tx, in2.Owner, "owner 2 must be required signer")
}

func requirePositive(r contracts.Record) error {
	// Written as a negation so NaN is rejected too.
	if !(r.Amount > 0) {
		return contracts.NewError(contracts.KindNonPositiveAmount, "token amount must be positive")
	}
	return nil
}

func requireKnownCurrencies(tx contracts.Transition) error {
	for _, in := range tx.Inputs {
		if !in.Record.Currency.Valid() {
			return contracts.Errorf(contracts.KindCurrencyMismatch, "unknown currency %q", in.Record.Currency)
		}
	}
	for _, out := range tx.Outputs {
		if !out.Currency.Valid() {
			return contracts.Errorf(contracts.KindCurrencyMismatch, "unknown currency %q", out.Currency)
		}
	}
	return nil
}

func requireSigner(tx contracts.Transition, p contracts.Party, rule string) error {
	if !tx.IsRequiredSigner(p) {
		return &contracts.LedgerError{Kind: contracts.KindAuthorizationViolation, Rule: rule, Party: p.Name}
	}
	return nil
}

func requireSignersAreParticipants(tx contracts.Transition) error {
	participants := tx.Participants()
	for _, s := range tx.RequiredSigners {
		if !contracts.ContainsParty(participants, s) {
			return &contracts.LedgerError{Kind: contracts.KindAuthorizationViolation, Rule: "unexpected signer", Party: s.Name}
		}
	}
	return nil
}
