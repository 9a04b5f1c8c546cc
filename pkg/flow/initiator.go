// Package flow runs the multi-party commit protocol.
//
// The initiator drives one transition through
// BUILT -> SELF_SIGNED -> COLLECTING_SIGNATURES -> NOTARIZING -> FINALIZED,
// ending in REJECTED on any failure. Nothing is written to a record store
// before the notary has accepted the transition. Responders re-validate every
// request independently before countersigning.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
	"github.com/Mindburn-Labs/tokenledger/pkg/notary"
	"github.com/Mindburn-Labs/tokenledger/pkg/observability"
	"github.com/Mindburn-Labs/tokenledger/pkg/session"
	"github.com/Mindburn-Labs/tokenledger/pkg/validation"
	"github.com/Mindburn-Labs/tokenledger/pkg/vault"
)

// SigningService signs and verifies content hashes. crypto.KeyRing
// satisfies it.
type SigningService interface {
	Sign(contentHash string, identity contracts.Party) (contracts.Signature, error)
	Verify(signature, contentHash string, identity contracts.Party) bool
}

// Archiver keeps a copy of finalized transitions. archive.S3Archiver
// satisfies it.
type Archiver interface {
	Archive(ctx context.Context, stx contracts.SignedTransition) (string, error)
}

// Result is the outcome of a finalized run.
type Result struct {
	Tx      contracts.SignedTransition
	Attempt AttemptSnapshot
	// Undelivered maps participants that did not accept the finality notice
	// to the delivery error. The transition is final regardless.
	Undelivered map[string]error
	// ArchiveKey is where the transition was archived, if an archiver is set.
	ArchiveKey string
}

// Initiator runs the commit protocol for transitions built by self.
type Initiator struct {
	self      contracts.Party
	keys      SigningService
	store     vault.Store
	notary    notary.Service
	transport session.Transport
	version   string
	archiver  Archiver
	telemetry *observability.Provider
	observe   func(AttemptSnapshot)
	logger    *slog.Logger
}

// InitiatorConfig configures an Initiator. Self, Keys, Store, Notary and
// Transport are required.
type InitiatorConfig struct {
	Self      contracts.Party
	Keys      SigningService
	Store     vault.Store
	Notary    notary.Service
	Transport session.Transport
	// Version is the protocol version announced to responders.
	Version   string
	Archiver  Archiver
	Telemetry *observability.Provider
	// OnTransition is called with a snapshot after every state change.
	OnTransition func(AttemptSnapshot)
	Logger       *slog.Logger
}

// NewInitiator creates an initiator.
func NewInitiator(cfg InitiatorConfig) (*Initiator, error) {
	if cfg.Self.IsZero() || cfg.Keys == nil || cfg.Store == nil || cfg.Notary == nil || cfg.Transport == nil {
		return nil, errors.New("flow: initiator requires self, keys, store, notary and transport")
	}
	in := &Initiator{
		self:      cfg.Self,
		keys:      cfg.Keys,
		store:     cfg.Store,
		notary:    cfg.Notary,
		transport: cfg.Transport,
		version:   cfg.Version,
		archiver:  cfg.Archiver,
		telemetry: cfg.Telemetry,
		observe:   cfg.OnTransition,
		logger:    cfg.Logger,
	}
	if in.version == "" {
		in.version = session.ProtocolVersion
	}
	if in.logger == nil {
		in.logger = slog.Default().With("component", "flow", "party", cfg.Self.Name)
	}
	if in.telemetry == nil {
		p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		in.telemetry = p
	}
	return in, nil
}

// Run takes tx through the commit protocol. On error the attempt is
// REJECTED and no record store was changed, unless the error is returned
// together with a non-nil Result, in which case the transition is final and
// only a local follow-up step failed.
//
// Cancelling ctx is honoured up to notarization. Once submitted, the
// notary's verdict is awaited regardless of ctx.
func (in *Initiator) Run(ctx context.Context, tx contracts.Transition) (*Result, error) {
	ctx, done := in.telemetry.TrackOperation(ctx, "flow.run", observability.FlowOperation(in.self.Name, tx.Intent.String())...)
	attempt := newAttempt(uuid.NewString(), tx.ID, in.observe)
	res, err := in.run(ctx, attempt, tx)
	done(err)
	if err != nil && res == nil {
		in.logger.WarnContext(ctx, "transition rejected",
			"tx_id", tx.ID, "intent", tx.Intent, "kind", contracts.KindOf(err), "error", err)
	}
	return res, err
}

func (in *Initiator) run(ctx context.Context, attempt *Attempt, tx contracts.Transition) (*Result, error) {
	// BUILT: never contact anyone with a transition that fails locally.
	if err := tx.VerifyID(); err != nil {
		return nil, attempt.reject(&contracts.LedgerError{Kind: contracts.KindInvalidArgument, Rule: "transition id does not match content", Err: err})
	}
	if err := validation.Validate(tx); err != nil {
		return nil, attempt.reject(err)
	}
	if !tx.IsRequiredSigner(in.self) {
		return nil, attempt.reject(contracts.Errorf(contracts.KindAuthorizationViolation, "initiator %s is not a required signer", in.self))
	}
	if tx.Notary.IsZero() {
		return nil, attempt.reject(contracts.NewError(contracts.KindInvalidArgument, "transition names no notary"))
	}
	if err := ctx.Err(); err != nil {
		return nil, attempt.reject(err)
	}

	sig, err := in.keys.Sign(tx.ID, in.self)
	if err != nil {
		return nil, attempt.reject(fmt.Errorf("self-sign: %w", err))
	}
	stx := contracts.SignedTransition{Tx: tx}.WithSignature(sig)
	if err := in.step(ctx, attempt, StateSelfSigned); err != nil {
		return nil, attempt.reject(err)
	}

	if err := in.step(ctx, attempt, StateCollectingSignatures); err != nil {
		return nil, attempt.reject(err)
	}
	stx, err = in.collect(ctx, stx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}
		return nil, attempt.reject(err)
	}
	if err := validation.VerifySignatures(stx, in.keys); err != nil {
		return nil, attempt.reject(err)
	}
	// Last point where cancellation has no visible effect.
	if err := ctx.Err(); err != nil {
		return nil, attempt.reject(err)
	}

	if err := in.step(ctx, attempt, StateNotarizing); err != nil {
		return nil, attempt.reject(err)
	}
	committed := context.WithoutCancel(ctx)
	receipt, err := in.notary.Submit(committed, stx)
	if err != nil {
		return nil, attempt.reject(err)
	}
	stx.Receipt = &receipt
	if err := in.step(committed, attempt, StateFinalized); err != nil {
		return nil, attempt.reject(err)
	}
	in.logger.InfoContext(ctx, "transition finalized",
		"tx_id", tx.ID, "intent", tx.Intent, "sequence", receipt.Sequence, "attempt_id", attempt.id)

	res := &Result{Tx: stx, Undelivered: map[string]error{}}
	if err := in.store.RecordFinalized(committed, stx); err != nil {
		res.Attempt = attempt.Snapshot()
		return res, fmt.Errorf("record finalized %s locally: %w", tx.ID, err)
	}
	in.deliver(committed, stx, res)
	if in.archiver != nil {
		key, err := in.archiver.Archive(committed, stx)
		if err != nil {
			in.logger.WarnContext(ctx, "archive failed", "tx_id", tx.ID, "error", err)
		}
		res.ArchiveKey = key
	}
	res.Attempt = attempt.Snapshot()
	return res, nil
}

func (in *Initiator) step(ctx context.Context, attempt *Attempt, to State) error {
	if err := attempt.advance(to); err != nil {
		return err
	}
	observability.AddSpanEvent(ctx, "flow.state", observability.AttrState.String(string(to)))
	in.logger.DebugContext(ctx, "flow state", "tx_id", attempt.txID, "state", to)
	return nil
}

// counterparties returns the required signers other than self.
func (in *Initiator) counterparties(tx contracts.Transition) []contracts.Party {
	out := make([]contracts.Party, 0, len(tx.RequiredSigners))
	for _, p := range contracts.DistinctParties(tx.RequiredSigners...) {
		if p != in.self {
			out = append(out, p)
		}
	}
	return out
}

// collect asks every counterparty for its signature, one session each,
// concurrently. The first refusal or failure cancels the others.
func (in *Initiator) collect(ctx context.Context, stx contracts.SignedTransition) (contracts.SignedTransition, error) {
	parties := in.counterparties(stx.Tx)
	sigs := make([]contracts.Signature, len(parties))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parties {
		g.Go(func() error {
			sig, err := in.requestSignature(gctx, p, stx)
			if err != nil {
				return err
			}
			sigs[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stx, err
	}
	for _, sig := range sigs {
		stx = stx.WithSignature(sig)
	}
	return stx, nil
}

func (in *Initiator) requestSignature(ctx context.Context, p contracts.Party, stx contracts.SignedTransition) (contracts.Signature, error) {
	s, err := in.transport.OpenSession(ctx, in.self, p)
	if err != nil {
		return contracts.Signature{}, contracts.SessionAbortError(p.Name, "session could not be established", err)
	}
	defer s.Close()

	req := session.SignatureRequest{From: in.self, Version: in.version, Tx: stx}
	if err := s.Send(ctx, req); err != nil {
		return contracts.Signature{}, contracts.SessionAbortError(p.Name, "send signature request", err)
	}
	reply, err := s.Receive(ctx)
	if err != nil {
		return contracts.Signature{}, contracts.SessionAbortError(p.Name, "await signature", err)
	}
	if reply.Refused() {
		return contracts.Signature{}, contracts.SessionAbortError(p.Name, "refused: "+reply.Refusal, nil)
	}

	sig := *reply.Signature
	if sig.Signer != p || !in.keys.Verify(sig.Value, stx.Tx.ID, p) {
		return contracts.Signature{}, &contracts.LedgerError{Kind: contracts.KindInvalidSignature, Rule: "returned signature does not verify", Party: p.Name}
	}
	return sig, nil
}

// participants returns everyone who must learn about a finalized tx,
// except self.
func (in *Initiator) participants(tx contracts.Transition) []contracts.Party {
	all := append(tx.Participants(), tx.RequiredSigners...)
	out := make([]contracts.Party, 0, len(all))
	for _, p := range contracts.DistinctParties(all...) {
		if p != in.self {
			out = append(out, p)
		}
	}
	return out
}

func (in *Initiator) deliver(ctx context.Context, stx contracts.SignedTransition, res *Result) {
	notice := session.FinalityNotice{From: in.self, Tx: stx}
	for _, p := range in.participants(stx.Tx) {
		if err := in.transport.DeliverFinality(ctx, p, notice); err != nil {
			res.Undelivered[p.Name] = err
			in.logger.WarnContext(ctx, "finality delivery failed", "tx_id", stx.Tx.ID, "party", p.Name, "error", err)
		}
	}
}
