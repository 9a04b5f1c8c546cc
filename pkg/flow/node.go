package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Mindburn-Labs/tokenledger/pkg/builder"
	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
	"github.com/Mindburn-Labs/tokenledger/pkg/notary"
	"github.com/Mindburn-Labs/tokenledger/pkg/observability"
	"github.com/Mindburn-Labs/tokenledger/pkg/policy"
	"github.com/Mindburn-Labs/tokenledger/pkg/session"
	"github.com/Mindburn-Labs/tokenledger/pkg/vault"
)

// Registry is a transport parties can attach their responders to.
// session.Network satisfies it.
type Registry interface {
	session.Transport
	Register(p contracts.Party, h session.Handler)
}

// NodeConfig wires one party. Identity, Keys, Store, Notary, NotaryIdentity
// and Network are required.
type NodeConfig struct {
	Identity       contracts.Party
	Keys           SigningService
	Store          vault.Store
	Notary         notary.Service
	NotaryIdentity contracts.Party
	Network        Registry
	Rates          *builder.RateTable

	Policy            *policy.Engine
	PolicyRule        string
	VersionConstraint string
	RequestsPerSecond float64
	Burst             int

	Archiver     Archiver
	Telemetry    *observability.Provider
	OnTransition func(AttemptSnapshot)
	Logger       *slog.Logger
}

// Node is one party on the ledger: it builds and initiates transitions and
// answers its counterparties.
type Node struct {
	identity  contracts.Party
	store     vault.Store
	builder   *builder.Builder
	initiator *Initiator
	responder *Responder
}

// NewNode builds the party's initiator and responder and registers the
// responder on the network.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.NotaryIdentity.IsZero() || cfg.Network == nil {
		return nil, errors.New("flow: node requires a notary identity and a network")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "node", "party", cfg.Identity.Name)
	}
	initiator, err := NewInitiator(InitiatorConfig{
		Self:         cfg.Identity,
		Keys:         cfg.Keys,
		Store:        cfg.Store,
		Notary:       cfg.Notary,
		Transport:    cfg.Network,
		Archiver:     cfg.Archiver,
		Telemetry:    cfg.Telemetry,
		OnTransition: cfg.OnTransition,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	responder, err := NewResponder(ResponderConfig{
		Self:              cfg.Identity,
		Keys:              cfg.Keys,
		Store:             cfg.Store,
		Policy:            cfg.Policy,
		PolicyRule:        cfg.PolicyRule,
		TrustedNotary:     cfg.NotaryIdentity,
		VersionConstraint: cfg.VersionConstraint,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	cfg.Network.Register(cfg.Identity, responder)
	return &Node{
		identity:  cfg.Identity,
		store:     cfg.Store,
		builder:   builder.New(cfg.Identity, cfg.NotaryIdentity, cfg.Store, cfg.Rates),
		initiator: initiator,
		responder: responder,
	}, nil
}

// Identity returns the node's party.
func (n *Node) Identity() contracts.Party {
	return n.identity
}

// Vault exposes the node's record store for queries.
func (n *Node) Vault() vault.Store {
	return n.store
}

// Builder returns the node's transition builder.
func (n *Node) Builder() *builder.Builder {
	return n.builder
}

// Initiator returns the node's protocol initiator.
func (n *Node) Initiator() *Initiator {
	return n.initiator
}

// Responder returns the node's responder.
func (n *Node) Responder() *Responder {
	return n.responder
}

// Unconsumed lists the node's spendable records.
func (n *Node) Unconsumed(ctx context.Context) ([]contracts.StateAndRef, error) {
	return n.store.Unconsumed(ctx, n.identity)
}

// Balance sums the node's spendable records of currency.
func (n *Node) Balance(ctx context.Context, currency contracts.Currency) (float64, error) {
	return vault.Balance(ctx, n.store, n.identity, currency)
}

// Issue creates amount of currency owned by owner.
func (n *Node) Issue(ctx context.Context, owner contracts.Party, amount float64, currency contracts.Currency) (*Result, error) {
	tx, err := n.builder.Issue(owner, amount, currency)
	if err != nil {
		return nil, err
	}
	return n.initiator.Run(ctx, tx)
}

// Move transfers the record at ref to newOwner.
func (n *Node) Move(ctx context.Context, ref contracts.Ref, newOwner contracts.Party) (*Result, error) {
	tx, err := n.builder.Move(ctx, ref, newOwner)
	if err != nil {
		return nil, err
	}
	return n.initiator.Run(ctx, tx)
}

// Split divides the record at ref by ratio.
func (n *Node) Split(ctx context.Context, ref contracts.Ref, ratio float64) (*Result, error) {
	tx, err := n.builder.Split(ctx, ref, ratio)
	if err != nil {
		return nil, err
	}
	return n.initiator.Run(ctx, tx)
}

// Join merges two records of the same owner and currency.
func (n *Node) Join(ctx context.Context, ref1, ref2 contracts.Ref) (*Result, error) {
	tx, err := n.builder.Join(ctx, ref1, ref2)
	if err != nil {
		return nil, err
	}
	return n.initiator.Run(ctx, tx)
}

// Swap exchanges desired units of ref2's currency against ref1 at the
// configured rate.
func (n *Node) Swap(ctx context.Context, ref1, ref2 contracts.Ref, desired float64) (*Result, error) {
	tx, err := n.builder.Swap(ctx, ref1, ref2, desired)
	if err != nil {
		return nil, err
	}
	return n.initiator.Run(ctx, tx)
}
