// Package contracts defines the shared data types of the token ledger:
// parties, token records, transitions, signatures and notary receipts.
//
// Values in this package are plain data. Behaviour that needs keys, storage
// or the network lives in the packages that consume them.
package contracts

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Party is a ledger identity. Two parties are the same identity when both
// the name and the public key match.
type Party struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"` // hex-encoded Ed25519 public key
}

// NewParty returns a party with an NFC-normalized, trimmed name.
func NewParty(name, publicKey string) (Party, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return Party{}, fmt.Errorf("party name is required")
	}
	return Party{Name: name, PublicKey: strings.ToLower(strings.TrimSpace(publicKey))}, nil
}

// String returns the party name.
func (p Party) String() string {
	return p.Name
}

// IsZero reports whether p is the zero party.
func (p Party) IsZero() bool {
	return p.Name == "" && p.PublicKey == ""
}

// distinctParties returns the parties in first-seen order without duplicates.
func distinctParties(parties ...Party) []Party {
	seen := make(map[Party]struct{}, len(parties))
	out := make([]Party, 0, len(parties))
	for _, p := range parties {
		if p.IsZero() {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// DistinctParties deduplicates parties preserving first-seen order.
func DistinctParties(parties ...Party) []Party {
	return distinctParties(parties...)
}

// ContainsParty reports whether p is in parties.
func ContainsParty(parties []Party, p Party) bool {
	for _, candidate := range parties {
		if candidate == p {
			return true
		}
	}
	return false
}
