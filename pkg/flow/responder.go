package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
	"github.com/Mindburn-Labs/tokenledger/pkg/notary"
	"github.com/Mindburn-Labs/tokenledger/pkg/policy"
	"github.com/Mindburn-Labs/tokenledger/pkg/session"
	"github.com/Mindburn-Labs/tokenledger/pkg/validation"
	"github.com/Mindburn-Labs/tokenledger/pkg/vault"
)

// ResponderConfig configures a Responder. Self, Keys and Store are
// required.
type ResponderConfig struct {
	Self  contracts.Party
	Keys  SigningService
	Store vault.Store
	// Policy evaluates PolicyRule; nil accepts every valid transition.
	Policy     *policy.Engine
	PolicyRule string
	// TrustedNotary, when set, is the only notary this party accepts.
	TrustedNotary contracts.Party
	// VersionConstraint defaults to session.DefaultConstraint.
	VersionConstraint string
	// RequestsPerSecond limits signature requests per initiator; zero
	// disables limiting.
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// Responder answers signature requests and records finality notices for
// one party. It implements session.Handler.
type Responder struct {
	cfg    ResponderConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ session.Handler = (*Responder)(nil)

// NewResponder creates a responder.
func NewResponder(cfg ResponderConfig) (*Responder, error) {
	if cfg.Self.IsZero() || cfg.Keys == nil || cfg.Store == nil {
		return nil, errors.New("flow: responder requires self, keys and store")
	}
	if cfg.VersionConstraint == "" {
		cfg.VersionConstraint = session.DefaultConstraint
	}
	if cfg.PolicyRule == "" {
		cfg.PolicyRule = policy.AcceptAll
	}
	if cfg.Policy != nil {
		if err := cfg.Policy.Compile(cfg.PolicyRule); err != nil {
			return nil, fmt.Errorf("flow: acceptance policy for %s: %w", cfg.Self, err)
		}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "responder", "party", cfg.Self.Name)
	}
	return &Responder{cfg: cfg, logger: logger, limiters: make(map[string]*rate.Limiter)}, nil
}

func (r *Responder) HandleSignatureRequest(ctx context.Context, req session.SignatureRequest) session.SignatureOrRefusal {
	if err := r.check(ctx, req); err != nil {
		r.logger.WarnContext(ctx, "signature refused",
			"tx_id", req.Tx.Tx.ID, "from", req.From.Name, "kind", contracts.KindOf(err), "reason", err)
		return session.Refuse(req.SessionID, r.cfg.Self, err.Error())
	}
	sig, err := r.cfg.Keys.Sign(req.Tx.Tx.ID, r.cfg.Self)
	if err != nil {
		r.logger.ErrorContext(ctx, "countersign failed", "tx_id", req.Tx.Tx.ID, "error", err)
		return session.Refuse(req.SessionID, r.cfg.Self, "signing unavailable")
	}
	r.logger.InfoContext(ctx, "transition countersigned", "tx_id", req.Tx.Tx.ID, "intent", req.Tx.Tx.Intent, "from", req.From.Name)
	return session.Sign(req.SessionID, r.cfg.Self, sig)
}

// check runs every acceptance condition in order and returns the first
// failure.
func (r *Responder) check(ctx context.Context, req session.SignatureRequest) error {
	tx := req.Tx.Tx

	ok, err := session.Compatible(req.Version, r.cfg.VersionConstraint)
	if err != nil || !ok {
		return &contracts.LedgerError{Kind: contracts.KindInvalidArgument, Rule: fmt.Sprintf("protocol version %q not accepted (%s)", req.Version, r.cfg.VersionConstraint), Err: err}
	}
	if err := tx.VerifyID(); err != nil {
		return &contracts.LedgerError{Kind: contracts.KindInvalidSignature, Rule: "transition id does not match content", Err: err}
	}
	if !tx.IsRequiredSigner(req.From) {
		return contracts.Errorf(contracts.KindAuthorizationViolation, "initiator %s is not a required signer", req.From)
	}
	sig, ok := req.Tx.SignatureBy(req.From)
	if !ok || !r.cfg.Keys.Verify(sig.Value, tx.ID, req.From) {
		return &contracts.LedgerError{Kind: contracts.KindInvalidSignature, Rule: "initiator signature missing or invalid", Party: req.From.Name}
	}
	if err := validation.Validate(tx); err != nil {
		return err
	}
	if !tx.IsRequiredSigner(r.cfg.Self) {
		return contracts.Errorf(contracts.KindAuthorizationViolation, "%s is not a required signer", r.cfg.Self)
	}
	if err := r.checkNotary(tx); err != nil {
		return err
	}
	if r.cfg.Policy != nil {
		accepted, err := r.cfg.Policy.Accept(r.cfg.PolicyRule, tx, r.cfg.Self)
		if err != nil {
			return fmt.Errorf("acceptance policy: %w", err)
		}
		if !accepted {
			return errors.New("rejected by acceptance policy")
		}
	}
	if !r.limiter(req.From.Name).Allow() {
		return fmt.Errorf("rate limit exceeded for %s", req.From.Name)
	}
	return nil
}

func (r *Responder) checkNotary(tx contracts.Transition) error {
	if !r.cfg.TrustedNotary.IsZero() && tx.Notary != r.cfg.TrustedNotary {
		return contracts.Errorf(contracts.KindAuthorizationViolation, "untrusted notary %s", tx.Notary)
	}
	return nil
}

func (r *Responder) limiter(from string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[from]
	if !ok {
		limit := rate.Inf
		if r.cfg.RequestsPerSecond > 0 {
			limit = rate.Limit(r.cfg.RequestsPerSecond)
		}
		l = rate.NewLimiter(limit, r.cfg.Burst)
		r.limiters[from] = l
	}
	return l
}

// HandleFinality verifies a notarized transition and records it. Redelivery
// of the same transition is a no-op.
func (r *Responder) HandleFinality(ctx context.Context, notice session.FinalityNotice) error {
	stx := notice.Tx
	if stx.Receipt == nil {
		return contracts.NewError(contracts.KindAuthorizationViolation, "finality notice without notary receipt")
	}
	if err := validation.VerifySignatures(stx, r.cfg.Keys); err != nil {
		return err
	}
	if err := validation.Validate(stx.Tx); err != nil {
		return err
	}
	if err := r.checkNotary(stx.Tx); err != nil {
		return err
	}
	if err := notary.VerifyReceipt(*stx.Receipt, stx.Tx); err != nil {
		return err
	}
	if err := r.cfg.Store.RecordFinalized(ctx, stx); err != nil {
		return fmt.Errorf("record finalized %s: %w", stx.Tx.ID, err)
	}
	r.logger.InfoContext(ctx, "finality recorded", "tx_id", stx.Tx.ID, "from", notice.From.Name, "sequence", stx.Receipt.Sequence)
	return nil
}
