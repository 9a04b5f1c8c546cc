package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// MemoryVault is an in-process Store.
type MemoryVault struct {
	mu           sync.RWMutex
	records      map[contracts.Ref]contracts.Record
	spent        map[contracts.Ref]string // ref -> consuming transaction id
	transactions map[string]contracts.SignedTransition
}

// NewMemoryVault creates an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		records:      make(map[contracts.Ref]contracts.Record),
		spent:        make(map[contracts.Ref]string),
		transactions: make(map[string]contracts.SignedTransition),
	}
}

func (v *MemoryVault) Find(_ context.Context, ref contracts.Ref) (contracts.StateAndRef, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.records[ref]
	if !ok {
		return contracts.StateAndRef{}, fmt.Errorf("record %s: %w", ref, ErrNotFound)
	}
	return contracts.StateAndRef{Ref: ref, Record: r}, nil
}

func (v *MemoryVault) IsSpent(_ context.Context, ref contracts.Ref) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.spent[ref]
	return ok, nil
}

func (v *MemoryVault) RecordFinalized(_ context.Context, stx contracts.SignedTransition) error {
	if stx.Tx.ID == "" {
		return fmt.Errorf("record finalized: transition has no id")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, done := v.transactions[stx.Tx.ID]; done {
		return nil
	}
	for _, ref := range stx.Tx.InputRefs() {
		v.spent[ref] = stx.Tx.ID
	}
	for _, out := range stx.Tx.OutputStates() {
		v.records[out.Ref] = out.Record
	}
	v.transactions[stx.Tx.ID] = stx
	return nil
}

func (v *MemoryVault) Transaction(_ context.Context, id string) (contracts.SignedTransition, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	stx, ok := v.transactions[id]
	if !ok {
		return contracts.SignedTransition{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return stx, nil
}

func (v *MemoryVault) Unconsumed(_ context.Context, owner contracts.Party) ([]contracts.StateAndRef, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []contracts.StateAndRef
	for ref, r := range v.records {
		if r.Owner != owner {
			continue
		}
		if _, spent := v.spent[ref]; spent {
			continue
		}
		out = append(out, contracts.StateAndRef{Ref: ref, Record: r})
	}
	sortStates(out)
	return out, nil
}

func sortStates(states []contracts.StateAndRef) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].Ref.TxID != states[j].Ref.TxID {
			return states[i].Ref.TxID < states[j].Ref.TxID
		}
		return states[i].Ref.Index < states[j].Ref.Index
	})
}
