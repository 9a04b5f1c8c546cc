package contracts

import "fmt"

// Intent is the semantic operation a transition performs.
type Intent string

const (
	IntentIssue Intent = "ISSUE"
	IntentMove  Intent = "MOVE"
	IntentSplit Intent = "SPLIT"
	IntentJoin  Intent = "JOIN"
	IntentSwap  Intent = "SWAP"
)

// AllIntents lists every intent in declaration order.
func AllIntents() []Intent {
	return []Intent{IntentIssue, IntentMove, IntentSplit, IntentJoin, IntentSwap}
}

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	for _, known := range AllIntents() {
		if i == known {
			return true
		}
	}
	return false
}

func (i Intent) String() string {
	return string(i)
}

// IntentCases has one method per intent. Adding an intent adds a method here,
// which breaks every implementation until it handles the new case.
type IntentCases[T any] interface {
	Issue() T
	Move() T
	Split() T
	Join() T
	Swap() T
}

// MatchIntent dispatches i to the matching method of cases.
func MatchIntent[T any](i Intent, cases IntentCases[T]) (T, error) {
	switch i {
	case IntentIssue:
		return cases.Issue(), nil
	case IntentMove:
		return cases.Move(), nil
	case IntentSplit:
		return cases.Split(), nil
	case IntentJoin:
		return cases.Join(), nil
	case IntentSwap:
		return cases.Swap(), nil
	}
	var zero T
	return zero, fmt.Errorf("unknown intent %q", i)
}
