package contracts

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is an immutable unit of ownership of a fungible, typed amount.
// A record is never changed in place: moving or splitting value consumes
// the record and produces new ones.
type Record struct {
	Issuer   Party    `json:"issuer"`
	Owner    Party    `json:"owner"`
	Amount   float64  `json:"amount"`
	Currency Currency `json:"currency"`
}

// Participants returns the issuer and owner without duplicates.
func (r Record) Participants() []Party {
	return distinctParties(r.Issuer, r.Owner)
}

// WithOwner returns a copy of r owned by owner.
func (r Record) WithOwner(owner Party) Record {
	r.Owner = owner
	return r
}

// Ref identifies a committed record by the transition that produced it and
// its position among that transition's outputs.
type Ref struct {
	TxID  string `json:"tx_id"`
	Index int    `json:"index"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.TxID, r.Index)
}

// ParseRef parses the "<txid>:<index>" form produced by Ref.String.
func ParseRef(s string) (Ref, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return Ref{}, fmt.Errorf("invalid record reference %q", s)
	}
	idx, err := strconv.Atoi(s[i+1:])
	if err != nil || idx < 0 {
		return Ref{}, fmt.Errorf("invalid record reference index %q", s)
	}
	return Ref{TxID: s[:i], Index: idx}, nil
}

// StateAndRef pairs a resolved record with its reference.
type StateAndRef struct {
	Ref    Ref    `json:"ref"`
	Record Record `json:"record"`
}
