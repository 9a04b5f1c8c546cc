package notary

import (
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tokenledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

const genesisHash = "genesis"

// JournalEntry is one notarized commit, hash-chained to its predecessor.
type JournalEntry struct {
	Sequence    uint64          `json:"sequence"`
	TxID        string          `json:"tx_id"`
	Inputs      []contracts.Ref `json:"inputs"`
	PrevHash    string          `json:"prev_hash"`
	CommitHash  string          `json:"commit_hash"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Journal is the notary's append-only commit log.
type Journal struct {
	mu       sync.RWMutex
	entries  []JournalEntry
	byTx     map[string]uint64
	headHash string
	clock    func() time.Time
}

func NewJournal() *Journal {
	return &Journal{
		byTx:     make(map[string]uint64),
		headHash: genesisHash,
		clock:    time.Now,
	}
}

// WithClock overrides clock for testing.
func (j *Journal) WithClock(clock func() time.Time) *Journal {
	j.clock = clock
	return j
}

func commitHash(seq uint64, txID string, inputs []contracts.Ref, prev string) (string, error) {
	if inputs == nil {
		inputs = []contracts.Ref{}
	}
	h, err := canonicalize.CanonicalHash(struct {
		Seq    uint64          `json:"seq"`
		TxID   string          `json:"tx_id"`
		Inputs []contracts.Ref `json:"inputs"`
		Prev   string          `json:"prev"`
	}{seq, txID, inputs, prev})
	if err != nil {
		return "", fmt.Errorf("failed to hash journal entry: %w", err)
	}
	return "sha256:" + h, nil
}

// Append commits txID. Appending the same txID twice is rejected; callers
// look up the existing entry instead.
func (j *Journal) Append(txID string, inputs []contracts.Ref) (JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, dup := j.byTx[txID]; dup {
		return JournalEntry{}, fmt.Errorf("transaction %s already journaled", txID)
	}

	seq := uint64(len(j.entries)) + 1
	hash, err := commitHash(seq, txID, inputs, j.headHash)
	if err != nil {
		return JournalEntry{}, err
	}
	entry := JournalEntry{
		Sequence:    seq,
		TxID:        txID,
		Inputs:      append([]contracts.Ref(nil), inputs...),
		PrevHash:    j.headHash,
		CommitHash:  hash,
		CommittedAt: j.clock().UTC(),
	}
	j.entries = append(j.entries, entry)
	j.byTx[txID] = seq
	j.headHash = hash
	return entry, nil
}

// Lookup returns the entry for txID.
func (j *Journal) Lookup(txID string) (JournalEntry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	seq, ok := j.byTx[txID]
	if !ok {
		return JournalEntry{}, false
	}
	return j.entries[seq-1], true
}

// Head returns the current head hash.
func (j *Journal) Head() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.headHash
}

// Len returns the number of entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Verify checks the integrity of the entire chain.
func (j *Journal) Verify() error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	prev := genesisHash
	for i, e := range j.entries {
		if e.PrevHash != prev {
			return fmt.Errorf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		computed, err := commitHash(e.Sequence, e.TxID, e.Inputs, e.PrevHash)
		if err != nil {
			return err
		}
		if computed != e.CommitHash {
			return fmt.Errorf("hash mismatch at entry %d", i+1)
		}
		prev = e.CommitHash
	}
	return nil
}
