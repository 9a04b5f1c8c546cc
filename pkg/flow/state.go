package flow

import (
	"fmt"
	"slices"
	"sync"
)

// State is a step of a transition attempt run by its initiator.
type State string

const (
	StateBuilt                State = "BUILT"
	StateSelfSigned           State = "SELF_SIGNED"
	StateCollectingSignatures State = "COLLECTING_SIGNATURES"
	StateNotarizing           State = "NOTARIZING"
	StateFinalized            State = "FINALIZED"
	StateRejected             State = "REJECTED"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateRejected
}

var transitions = map[State][]State{
	StateBuilt:                {StateSelfSigned, StateRejected},
	StateSelfSigned:           {StateCollectingSignatures, StateRejected},
	StateCollectingSignatures: {StateNotarizing, StateRejected},
	StateNotarizing:           {StateFinalized, StateRejected},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Attempt is one run of the commit protocol for one transition. It is owned
// by the goroutine running the flow; Snapshot is safe from other goroutines.
type Attempt struct {
	mu      sync.Mutex
	id      string
	txID    string
	state   State
	history []State
	err     error
	observe func(AttemptSnapshot)
}

// AttemptSnapshot is a copy of an attempt's progress.
type AttemptSnapshot struct {
	ID      string
	TxID    string
	State   State
	History []State
	Err     error
}

func newAttempt(id, txID string, observe func(AttemptSnapshot)) *Attempt {
	a := &Attempt{
		id:      id,
		txID:    txID,
		state:   StateBuilt,
		history: []State{StateBuilt},
		observe: observe,
	}
	a.notify()
	return a
}

func (a *Attempt) advance(to State) error {
	a.mu.Lock()
	if !CanTransition(a.state, to) {
		from := a.state
		a.mu.Unlock()
		return fmt.Errorf("illegal flow transition %s -> %s", from, to)
	}
	a.state = to
	a.history = append(a.history, to)
	a.mu.Unlock()
	a.notify()
	return nil
}

func (a *Attempt) reject(err error) error {
	a.mu.Lock()
	changed := !a.state.Terminal()
	if changed {
		a.state = StateRejected
		a.history = append(a.history, StateRejected)
		a.err = err
	}
	a.mu.Unlock()
	if changed {
		a.notify()
	}
	return err
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Snapshot returns a copy of the attempt's progress.
func (a *Attempt) Snapshot() AttemptSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AttemptSnapshot{
		ID:      a.id,
		TxID:    a.txID,
		State:   a.state,
		History: slices.Clone(a.history),
		Err:     a.err,
	}
}

func (a *Attempt) notify() {
	if a.observe != nil {
		a.observe(a.Snapshot())
	}
}
