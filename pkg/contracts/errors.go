package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a transition attempt failed.
type ErrorKind string

const (
	// KindShapeViolation: wrong input/output cardinality for the intent.
	KindShapeViolation ErrorKind = "SHAPE_VIOLATION"
	// KindNonPositiveAmount: an output carries an amount <= 0.
	KindNonPositiveAmount ErrorKind = "NON_POSITIVE_AMOUNT"
	// KindConservationViolation: summed amounts differ by more than the tolerance.
	KindConservationViolation ErrorKind = "CONSERVATION_VIOLATION"
	// KindCurrencyMismatch: currencies do not line up with what the intent requires.
	KindCurrencyMismatch ErrorKind = "CURRENCY_MISMATCH"
	// KindAuthorizationViolation: a required signer is missing or a signer is unexpected.
	KindAuthorizationViolation ErrorKind = "AUTHORIZATION_VIOLATION"
	// KindInsufficientFunds: the requested amount exceeds an available balance.
	KindInsufficientFunds ErrorKind = "INSUFFICIENT_FUNDS"
	// KindConsumedInputConflict: an input was already consumed by another transition.
	KindConsumedInputConflict ErrorKind = "CONSUMED_INPUT_CONFLICT"
	// KindSessionAbort: a counterparty refused or the session could not be used.
	KindSessionAbort ErrorKind = "SESSION_ABORT"
	// KindInvalidArgument: a builder argument is out of range.
	KindInvalidArgument ErrorKind = "INVALID_ARGUMENT"
	// KindInvalidSignature: a signature does not verify over the transition id.
	KindInvalidSignature ErrorKind = "INVALID_SIGNATURE"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrShapeViolation         = &LedgerError{Kind: KindShapeViolation}
	ErrNonPositiveAmount      = &LedgerError{Kind: KindNonPositiveAmount}
	ErrConservationViolation  = &LedgerError{Kind: KindConservationViolation}
	ErrCurrencyMismatch       = &LedgerError{Kind: KindCurrencyMismatch}
	ErrAuthorizationViolation = &LedgerError{Kind: KindAuthorizationViolation}
	ErrInsufficientFunds      = &LedgerError{Kind: KindInsufficientFunds}
	ErrConsumedInputConflict  = &LedgerError{Kind: KindConsumedInputConflict}
	ErrSessionAbort           = &LedgerError{Kind: KindSessionAbort}
	ErrInvalidArgument        = &LedgerError{Kind: KindInvalidArgument}
	ErrInvalidSignature       = &LedgerError{Kind: KindInvalidSignature}
)

// LedgerError is the structured failure returned by validation, building
// and the commit protocol.
type LedgerError struct {
	Kind ErrorKind
	// Rule is the human-readable constraint that failed.
	Rule string
	// Expected and Actual are set for conservation and funds failures.
	Expected float64
	Actual   float64
	// Conflicts lists the already-consumed inputs of a notarization conflict.
	Conflicts []Ref
	// Party is the counterparty involved, when there is one.
	Party string
	Err   error
}

// NewError returns a LedgerError of kind with the given rule text.
func NewError(kind ErrorKind, rule string) *LedgerError {
	return &LedgerError{Kind: kind, Rule: rule}
}

// Errorf returns a LedgerError whose rule is formatted.
func Errorf(kind ErrorKind, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: kind, Rule: fmt.Sprintf(format, args...)}
}

// ConservationError reports expected versus actual totals.
func ConservationError(rule string, expected, actual float64) *LedgerError {
	return &LedgerError{Kind: KindConservationViolation, Rule: rule, Expected: expected, Actual: actual}
}

// InsufficientFundsError reports the requested amount against what is available.
func InsufficientFundsError(rule string, requested, available float64) *LedgerError {
	return &LedgerError{Kind: KindInsufficientFunds, Rule: rule, Expected: requested, Actual: available}
}

// ConflictError reports inputs consumed by another finalized transition.
func ConflictError(refs []Ref) *LedgerError {
	return &LedgerError{Kind: KindConsumedInputConflict, Rule: "input already consumed", Conflicts: refs}
}

// SessionAbortError reports a refusal or failed session with party.
func SessionAbortError(party, reason string, cause error) *LedgerError {
	return &LedgerError{Kind: KindSessionAbort, Rule: reason, Party: party, Err: cause}
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Rule != "" {
		b.WriteString(": ")
		b.WriteString(e.Rule)
	}
	switch e.Kind {
	case KindConservationViolation:
		fmt.Fprintf(&b, " (expected %.5f, actual %.5f)", e.Expected, e.Actual)
	case KindInsufficientFunds:
		fmt.Fprintf(&b, " (requested %.2f, available %.2f)", e.Expected, e.Actual)
	case KindConsumedInputConflict:
		if len(e.Conflicts) > 0 {
			refs := make([]string, len(e.Conflicts))
			for i, r := range e.Conflicts {
				refs[i] = r.String()
			}
			fmt.Fprintf(&b, " [%s]", strings.Join(refs, ", "))
		}
	}
	if e.Party != "" {
		fmt.Fprintf(&b, " (party %s)", e.Party)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is matches any LedgerError of the same kind, so the package sentinels work
// with errors.Is.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether rebuilding and resubmitting may succeed.
// Only a consumed-input conflict can come from benign concurrency.
func (e *LedgerError) Retryable() bool {
	return e.Kind == KindConsumedInputConflict
}

// KindOf returns the kind of the first LedgerError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// IsRetryable reports whether err carries a retry-eligible LedgerError.
func IsRetryable(err error) bool {
	var le *LedgerError
	return errors.As(err, &le) && le.Retryable()
}
