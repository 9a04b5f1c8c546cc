package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

var (
	alice = contracts.Party{Name: "Alice", PublicKey: "aa"}
	bob   = contracts.Party{Name: "Bob", PublicKey: "bb"}
	carol = contracts.Party{Name: "Carol", PublicKey: "cc"}
)

func input(idx int, r contracts.Record) contracts.StateAndRef {
	return contracts.StateAndRef{Ref: contracts.Ref{TxID: "prev", Index: idx}, Record: r}
}

func rec(issuer, owner contracts.Party, amount float64, c contracts.Currency) contracts.Record {
	return contracts.Record{Issuer: issuer, Owner: owner, Amount: amount, Currency: c}
}

func TestValidateIssue(t *testing.T) {
	tests := []struct {
		name    string
		tx      contracts.Transition
		wantErr contracts.ErrorKind
	}{
		{
			name: "issue to counterparty",
			tx: contracts.Transition{
				Intent:          contracts.IntentIssue,
				Outputs:         []contracts.Record{rec(alice, bob, 100, contracts.CurrencyRick)},
				RequiredSigners: []contracts.Party{alice, bob},
			},
		},
		{
			name: "zero amount",
			tx: contracts.Transition{
				Intent:          contracts.IntentIssue,
				Outputs:         []contracts.Record{rec(alice, bob, 0, contracts.CurrencyRick)},
				RequiredSigners: []contracts.Party{alice, bob},
			},
			wantErr: contracts.KindNonPositiveAmount,
		},
		{
			name: "negative amount",
			tx: contracts.Transition{
				Intent:          contracts.IntentIssue,
				Outputs:         []contracts.Record{rec(alice, bob, -5, contracts.CurrencyRick)},
				RequiredSigners: []contracts.Party{alice, bob},
			},
			wantErr: contracts.KindNonPositiveAmount,
		},
		{
			name: "NaN amount",
			tx: contracts.Transition{
				Intent:          contracts.IntentIssue,
				Outputs:         []contracts.Record{rec(alice, bob, math.NaN(), contracts.CurrencyRick)},
				RequiredSigners: []contracts.Party{alice, bob},
			},
			wantErr: contracts.KindNonPositiveAmount,
		},
		{
			name: "issue with input",
			tx: contracts.Transition{
				Intent:          contracts.IntentIssue,
				Inputs:          []contracts.StateAndRef{input(0, rec(alice, alice, 1, contracts.CurrencyRick))},
				Outputs:         []contracts.Record{rec(alice, bob, 1, contracts.CurrencyRick)},
				RequiredSigners: []contracts.Party{alice},
			},
			wantErr: contracts.KindShapeViolation,
		},
		{
			name: "two outputs",
			tx: contracts.Transition{
				Intent: contracts.IntentIssue,
				Outputs: []contracts.Record{
					rec(alice, bob, 1, contracts.CurrencyRick),
					rec(alice, bob, 1, contracts.CurrencyRick),
				},
				RequiredSigners: []contracts.Party{alice},
			},
			wantErr: contracts.KindShapeViolation,
		},
		{
			name: "issuer not signing",
			tx: contracts.Transition{
				Intent:          contracts.IntentIssue,
				Outputs:         []contracts.Record{rec(alice, bob, 100, contracts.CurrencyRick)},
				RequiredSigners: []contracts.Party{bob},
			},
			wantErr: contracts.KindAuthorizationViolation,
		},
		{
			name: "unknown currency",
			tx: contracts.Transition{
				Intent:          contracts.IntentIssue,
				Outputs:         []contracts.Record{rec(alice, bob, 100, contracts.Currency("BETH"))},
				RequiredSigners: []contracts.Party{alice, bob},
			},
			wantErr: contracts.KindCurrencyMismatch,
		},
		{
			name: "signer outside participants",
			tx: contracts.Transition{
				Intent:          contracts.IntentIssue,
				Outputs:         []contracts.Record{rec(alice, bob, 100, contracts.CurrencyRick)},
				RequiredSigners: []contracts.Party{alice, carol},
			},
			wantErr: contracts.KindAuthorizationViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertVerdict(t, tt.tx, tt.wantErr)
		})
	}
}

func TestValidateMove(t *testing.T) {
	in := input(0, rec(alice, alice, 25, contracts.CurrencyMorty))

	tests := []struct {
		name    string
		out     contracts.Record
		signers []contracts.Party
		wantErr contracts.ErrorKind
	}{
		{name: "move to bob", out: rec(alice, bob, 25, contracts.CurrencyMorty), signers: []contracts.Party{alice, bob}},
		{name: "within tolerance", out: rec(alice, bob, 25.000001, contracts.CurrencyMorty), signers: []contracts.Party{alice, bob}},
		{name: "amount changed", out: rec(alice, bob, 24, contracts.CurrencyMorty), signers: []contracts.Party{alice, bob}, wantErr: contracts.KindConservationViolation},
		{name: "currency changed", out: rec(alice, bob, 25, contracts.CurrencyRick), signers: []contracts.Party{alice, bob}, wantErr: contracts.KindCurrencyMismatch},
		{name: "issuer forged", out: rec(bob, bob, 25, contracts.CurrencyMorty), signers: []contracts.Party{alice, bob}, wantErr: contracts.KindAuthorizationViolation},
		{name: "owner not signing", out: rec(alice, bob, 25, contracts.CurrencyMorty), signers: []contracts.Party{bob}, wantErr: contracts.KindAuthorizationViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := contracts.Transition{
				Intent:          contracts.IntentMove,
				Inputs:          []contracts.StateAndRef{in},
				Outputs:         []contracts.Record{tt.out},
				RequiredSigners: tt.signers,
			}
			assertVerdict(t, tx, tt.wantErr)
		})
	}
}

func TestValidateSplit(t *testing.T) {
	in := input(0, rec(alice, alice, 100, contracts.CurrencyRick))
	signers := []contracts.Party{alice}

	tests := []struct {
		name    string
		outputs []contracts.Record
		signers []contracts.Party
		wantErr contracts.ErrorKind
	}{
		{
			name:    "30/70",
			outputs: []contracts.Record{rec(alice, alice, 30, contracts.CurrencyRick), rec(alice, alice, 70, contracts.CurrencyRick)},
			signers: signers,
		},
		{
			name:    "30/69.99 leaks",
			outputs: []contracts.Record{rec(alice, alice, 30, contracts.CurrencyRick), rec(alice, alice, 69.99, contracts.CurrencyRick)},
			signers: signers,
			wantErr: contracts.KindConservationViolation,
		},
		{
			name:    "zero part",
			outputs: []contracts.Record{rec(alice, alice, 0, contracts.CurrencyRick), rec(alice, alice, 100, contracts.CurrencyRick)},
			signers: signers,
			wantErr: contracts.KindNonPositiveAmount,
		},
		{
			name:    "one output",
			outputs: []contracts.Record{rec(alice, alice, 100, contracts.CurrencyRick)},
			signers: signers,
			wantErr: contracts.KindShapeViolation,
		},
		{
			name:    "currency changed",
			outputs: []contracts.Record{rec(alice, alice, 30, contracts.CurrencyRick), rec(alice, alice, 70, contracts.CurrencyMorty)},
			signers: signers,
			wantErr: contracts.KindCurrencyMismatch,
		},
		{
			name:    "owner not signing",
			outputs: []contracts.Record{rec(alice, alice, 30, contracts.CurrencyRick), rec(alice, alice, 70, contracts.CurrencyRick)},
			signers: nil,
			wantErr: contracts.KindAuthorizationViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := contracts.Transition{
				Intent:          contracts.IntentSplit,
				Inputs:          []contracts.StateAndRef{in},
				Outputs:         tt.outputs,
				RequiredSigners: tt.signers,
			}
			assertVerdict(t, tx, tt.wantErr)
		})
	}
}

func TestValidateSplitReportsAmounts(t *testing.T) {
	tx := contracts.Transition{
		Intent:  contracts.IntentSplit,
		Inputs:  []contracts.StateAndRef{input(0, rec(alice, alice, 100, contracts.CurrencyRick))},
		Outputs: []contracts.Record{rec(alice, alice, 30, contracts.CurrencyRick), rec(alice, alice, 69.99, contracts.CurrencyRick)},
		RequiredSigners: []contracts.Party{alice},
	}
	err := Validate(tx)
	var lerr *contracts.LedgerError
	require.ErrorAs(t, err, &lerr)
	assert.InDelta(t, 100, lerr.Expected, 1e-9)
	assert.InDelta(t, 99.99, lerr.Actual, 1e-9)
}

func TestValidateJoin(t *testing.T) {
	tests := []struct {
		name    string
		in1     contracts.Record
		in2     contracts.Record
		out     contracts.Record
		wantErr contracts.ErrorKind
	}{
		{
			name: "40+60",
			in1:  rec(alice, alice, 40, contracts.CurrencyRick),
			in2:  rec(bob, alice, 60, contracts.CurrencyRick),
			out:  rec(alice, alice, 100, contracts.CurrencyRick),
		},
		{
			name:    "different owners",
			in1:     rec(alice, alice, 40, contracts.CurrencyRick),
			in2:     rec(bob, bob, 60, contracts.CurrencyRick),
			out:     rec(alice, alice, 100, contracts.CurrencyRick),
			wantErr: contracts.KindAuthorizationViolation,
		},
		{
			name:    "different currencies",
			in1:     rec(alice, alice, 40, contracts.CurrencyRick),
			in2:     rec(alice, alice, 60, contracts.CurrencyMorty),
			out:     rec(alice, alice, 100, contracts.CurrencyRick),
			wantErr: contracts.KindCurrencyMismatch,
		},
		{
			name:    "sum mismatch",
			in1:     rec(alice, alice, 40, contracts.CurrencyRick),
			in2:     rec(alice, alice, 60, contracts.CurrencyRick),
			out:     rec(alice, alice, 101, contracts.CurrencyRick),
			wantErr: contracts.KindConservationViolation,
		},
		{
			name:    "output currency changed",
			in1:     rec(alice, alice, 40, contracts.CurrencyRick),
			in2:     rec(alice, alice, 60, contracts.CurrencyRick),
			out:     rec(alice, alice, 100, contracts.CurrencyMorty),
			wantErr: contracts.KindCurrencyMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := contracts.Transition{
				Intent:  contracts.IntentJoin,
				Inputs:  []contracts.StateAndRef{input(0, tt.in1), input(1, tt.in2)},
				Outputs: []contracts.Record{tt.out},
			}
			tx.RequiredSigners = contracts.DistinctParties(tt.in1.Owner, tt.in2.Owner)
			assertVerdict(t, tx, tt.wantErr)
		})
	}
}

func TestValidateSwap(t *testing.T) {
	rick := input(0, rec(alice, alice, 10, contracts.CurrencyRick))
	morty := input(1, rec(bob, bob, 30, contracts.CurrencyMorty))
	signers := []contracts.Party{alice, bob}

	tests := []struct {
		name    string
		inputs  []contracts.StateAndRef
		outputs []contracts.Record
		signers []contracts.Party
		wantErr contracts.ErrorKind
	}{
		{
			name:   "four outputs",
			inputs: []contracts.StateAndRef{rick, morty},
			outputs: []contracts.Record{
				rec(alice, bob, 5, contracts.CurrencyRick),
				rec(alice, alice, 5, contracts.CurrencyRick),
				rec(bob, alice, 10, contracts.CurrencyMorty),
				rec(bob, bob, 20, contracts.CurrencyMorty),
			},
			signers: signers,
		},
		{
			name:   "exact exchange, two outputs",
			inputs: []contracts.StateAndRef{rick, morty},
			outputs: []contracts.Record{
				rec(alice, bob, 10, contracts.CurrencyRick),
				rec(bob, alice, 30, contracts.CurrencyMorty),
			},
			signers: signers,
		},
		{
			name: "same currency inputs",
			inputs: []contracts.StateAndRef{
				rick,
				input(1, rec(bob, bob, 30, contracts.CurrencyRick)),
			},
			outputs: []contracts.Record{
				rec(alice, bob, 10, contracts.CurrencyRick),
				rec(bob, alice, 30, contracts.CurrencyRick),
			},
			signers: signers,
			wantErr: contracts.KindCurrencyMismatch,
		},
		{
			name:   "one output",
			inputs: []contracts.StateAndRef{rick, morty},
			outputs: []contracts.Record{
				rec(alice, bob, 10, contracts.CurrencyRick),
			},
			signers: signers,
			wantErr: contracts.KindShapeViolation,
		},
		{
			name:   "five outputs",
			inputs: []contracts.StateAndRef{rick, morty},
			outputs: []contracts.Record{
				rec(alice, bob, 2, contracts.CurrencyRick),
				rec(alice, bob, 3, contracts.CurrencyRick),
				rec(alice, alice, 5, contracts.CurrencyRick),
				rec(bob, alice, 10, contracts.CurrencyMorty),
				rec(bob, bob, 20, contracts.CurrencyMorty),
			},
			signers: signers,
			wantErr: contracts.KindShapeViolation,
		},
		{
			name:   "morty leaks",
			inputs: []contracts.StateAndRef{rick, morty},
			outputs: []contracts.Record{
				rec(alice, bob, 10, contracts.CurrencyRick),
				rec(bob, alice, 29, contracts.CurrencyMorty),
			},
			signers: signers,
			wantErr: contracts.KindConservationViolation,
		},
		{
			name:   "currency dropped from outputs",
			inputs: []contracts.StateAndRef{rick, morty},
			outputs: []contracts.Record{
				rec(alice, bob, 5, contracts.CurrencyRick),
				rec(alice, alice, 5, contracts.CurrencyRick),
			},
			signers: signers,
			wantErr: contracts.KindConservationViolation,
		},
		{
			name:   "zero leftover",
			inputs: []contracts.StateAndRef{rick, morty},
			outputs: []contracts.Record{
				rec(alice, bob, 10, contracts.CurrencyRick),
				rec(alice, alice, 0, contracts.CurrencyRick),
				rec(bob, alice, 30, contracts.CurrencyMorty),
			},
			signers: signers,
			wantErr: contracts.KindNonPositiveAmount,
		},
		{
			name:   "counterparty not signing",
			inputs: []contracts.StateAndRef{rick, morty},
			outputs: []contracts.Record{
				rec(alice, bob, 10, contracts.CurrencyRick),
				rec(bob, alice, 30, contracts.CurrencyMorty),
			},
			signers: []contracts.Party{alice},
			wantErr: contracts.KindAuthorizationViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := contracts.Transition{
				Intent:          contracts.IntentSwap,
				Inputs:          tt.inputs,
				Outputs:         tt.outputs,
				RequiredSigners: tt.signers,
			}
			assertVerdict(t, tx, tt.wantErr)
		})
	}
}

func TestValidateUnknownIntent(t *testing.T) {
	err := Validate(contracts.Transition{Intent: contracts.Intent("BURN")})
	require.ErrorIs(t, err, contracts.ErrShapeViolation)
}

func TestValidateIsStateless(t *testing.T) {
	// A passing swap followed by a failing one must not see leftover totals.
	ok := contracts.Transition{
		Intent: contracts.IntentSwap,
		Inputs: []contracts.StateAndRef{
			input(0, rec(alice, alice, 10, contracts.CurrencyRick)),
			input(1, rec(bob, bob, 20, contracts.CurrencyMorty)),
		},
		Outputs: []contracts.Record{
			rec(alice, bob, 10, contracts.CurrencyRick),
			rec(bob, alice, 20, contracts.CurrencyMorty),
		},
		RequiredSigners: []contracts.Party{alice, bob},
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, Validate(ok))
	}

	bad := ok
	bad.Outputs = []contracts.Record{
		rec(alice, bob, 9, contracts.CurrencyRick),
		rec(bob, alice, 20, contracts.CurrencyMorty),
	}
	require.ErrorIs(t, Validate(bad), contracts.ErrConservationViolation)
	require.NoError(t, Validate(ok))
}

func TestApproxEqual(t *testing.T) {
	assert.True(t, ApproxEqual(0.1+0.2, 0.3))
	assert.True(t, ApproxEqual(1, 1.000009))
	assert.False(t, ApproxEqual(1, 1.00001))
	assert.False(t, ApproxEqual(1, math.NaN()))
}

func assertVerdict(t *testing.T, tx contracts.Transition, want contracts.ErrorKind) {
	t.Helper()
	err := Validate(tx)
	if want == "" {
		require.NoError(t, err)
		return
	}
	require.Error(t, err)
	assert.Equal(t, want, contracts.KindOf(err), "unexpected verdict: %v", err)
}
