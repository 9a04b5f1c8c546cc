package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
	"github.com/Mindburn-Labs/tokenledger/pkg/crypto"
	"github.com/Mindburn-Labs/tokenledger/pkg/notary"
	"github.com/Mindburn-Labs/tokenledger/pkg/policy"
	"github.com/Mindburn-Labs/tokenledger/pkg/session"
	"github.com/Mindburn-Labs/tokenledger/pkg/vault"
)

// harness is an in-process network of parties sharing one notary. All
// private keys live in one key ring; each node only ever signs as itself.
type harness struct {
	t        *testing.T
	keys     *crypto.KeyRing
	network  *session.Network
	notaryID contracts.Party
	notary   *notary.Notary
	parties  map[string]contracts.Party
	nodes    map[string]*Node
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		keys:    crypto.NewKeyRing(),
		network: session.NewNetwork(),
		parties: make(map[string]contracts.Party),
		nodes:   make(map[string]*Node),
	}
	h.notaryID = h.party("Notary")
	h.notary = notary.New(h.notaryID, h.keys)
	return h
}

func (h *harness) party(name string) contracts.Party {
	h.t.Helper()
	if p, ok := h.parties[name]; ok {
		return p
	}
	s, err := crypto.NewEd25519Signer(name)
	require.NoError(h.t, err)
	p, err := h.keys.Identity(name, s)
	require.NoError(h.t, err)
	h.parties[name] = p
	return p
}

func (h *harness) node(name string, mutate ...func(*NodeConfig)) *Node {
	h.t.Helper()
	cfg := NodeConfig{
		Identity:       h.party(name),
		Keys:           h.keys,
		Store:          vault.NewMemoryVault(),
		Notary:         h.notary,
		NotaryIdentity: h.notaryID,
		Network:        h.network,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	n, err := NewNode(cfg)
	require.NoError(h.t, err)
	h.nodes[name] = n
	return n
}

func balance(t *testing.T, store vault.Store, owner contracts.Party, c contracts.Currency) float64 {
	t.Helper()
	b, err := vault.Balance(context.Background(), store, owner, c)
	require.NoError(t, err)
	return b
}

type recorder struct {
	mu        sync.Mutex
	snapshots []AttemptSnapshot
}

func (r *recorder) observe(s AttemptSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) last() AttemptSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}

var happyPath = []State{StateBuilt, StateSelfSigned, StateCollectingSignatures, StateNotarizing, StateFinalized}

func TestIssue_FinalizesAtEveryParticipant(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.node("Alice"), h.node("Bob")
	ctx := context.Background()

	res, err := alice.Issue(ctx, bob.Identity(), 100, contracts.CurrencyRick)
	require.NoError(t, err)

	assert.Equal(t, happyPath, res.Attempt.History)
	assert.Empty(t, res.Undelivered)
	require.NotNil(t, res.Tx.Receipt)
	assert.Equal(t, uint64(1), res.Tx.Receipt.Sequence)
	assert.Empty(t, res.Tx.MissingSigners())

	assert.Equal(t, 100.0, balance(t, bob.Vault(), bob.Identity(), contracts.CurrencyRick))
	assert.Equal(t, 100.0, balance(t, alice.Vault(), bob.Identity(), contracts.CurrencyRick))

	got, err := bob.Balance(ctx, contracts.CurrencyRick)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)
}

func TestLifecycle_SplitJoinMove(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.node("Alice"), h.node("Bob")
	ctx := context.Background()

	issued, err := alice.Issue(ctx, alice.Identity(), 100, contracts.CurrencyRick)
	require.NoError(t, err)

	split, err := alice.Split(ctx, issued.Tx.Tx.OutputRef(0), 0.4)
	require.NoError(t, err)
	assert.Equal(t, 40.0, split.Tx.Tx.Outputs[0].Amount)
	assert.Equal(t, 60.0, split.Tx.Tx.Outputs[1].Amount)

	spent, err := alice.Vault().IsSpent(ctx, issued.Tx.Tx.OutputRef(0))
	require.NoError(t, err)
	assert.True(t, spent)

	joined, err := alice.Join(ctx, split.Tx.Tx.OutputRef(0), split.Tx.Tx.OutputRef(1))
	require.NoError(t, err)
	assert.Equal(t, 100.0, joined.Tx.Tx.Outputs[0].Amount)

	moved, err := alice.Move(ctx, joined.Tx.Tx.OutputRef(0), bob.Identity())
	require.NoError(t, err)
	assert.Equal(t, happyPath, moved.Attempt.History)

	assert.Equal(t, 0.0, balance(t, alice.Vault(), alice.Identity(), contracts.CurrencyRick))
	assert.Equal(t, 100.0, balance(t, bob.Vault(), bob.Identity(), contracts.CurrencyRick))

	held, err := bob.Unconsumed(ctx)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, moved.Tx.Tx.OutputRef(0), held[0].Ref)
	assert.Equal(t, 4, h.notary.Journal().Len())
}

func TestSwap_ExchangesBetweenParties(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.node("Alice"), h.node("Bob")
	ctx := context.Background()

	rick, err := alice.Issue(ctx, alice.Identity(), 10, contracts.CurrencyRick)
	require.NoError(t, err)
	morty, err := alice.Issue(ctx, bob.Identity(), 30, contracts.CurrencyMorty)
	require.NoError(t, err)

	res, err := alice.Swap(ctx, rick.Tx.Tx.OutputRef(0), morty.Tx.Tx.OutputRef(0), 10)
	require.NoError(t, err)
	require.Len(t, res.Tx.Tx.Outputs, 4)

	for _, store := range []vault.Store{alice.Vault(), bob.Vault()} {
		assert.Equal(t, 5.0, balance(t, store, alice.Identity(), contracts.CurrencyRick))
		assert.Equal(t, 10.0, balance(t, store, alice.Identity(), contracts.CurrencyMorty))
		assert.Equal(t, 5.0, balance(t, store, bob.Identity(), contracts.CurrencyRick))
		assert.Equal(t, 20.0, balance(t, store, bob.Identity(), contracts.CurrencyMorty))
	}
}

func TestRefusal_LeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	engine, err := policy.NewEngine()
	require.NoError(t, err)

	rec := &recorder{}
	alice := h.node("Alice", func(c *NodeConfig) { c.OnTransition = rec.observe })
	bob := h.node("Bob", func(c *NodeConfig) {
		c.Policy = engine
		c.PolicyRule = `tx.outputs.all(o, o.currency == "MORTY")`
	})
	ctx := context.Background()

	res, err := alice.Issue(ctx, bob.Identity(), 100, contracts.CurrencyRick)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, contracts.ErrSessionAbort))
	assert.False(t, contracts.IsRetryable(err))

	var le *contracts.LedgerError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Bob", le.Party)
	assert.Contains(t, le.Rule, "acceptance policy")

	last := rec.last()
	assert.Equal(t, StateRejected, last.State)
	assert.Equal(t, []State{StateBuilt, StateSelfSigned, StateCollectingSignatures, StateRejected}, last.History)

	assert.Zero(t, h.notary.Journal().Len())
	for _, n := range []*Node{alice, bob} {
		held, err := n.Vault().Unconsumed(ctx, bob.Identity())
		require.NoError(t, err)
		assert.Empty(t, held)
	}

	// The policy only blocks RICK.
	_, err = alice.Issue(ctx, bob.Identity(), 100, contracts.CurrencyMorty)
	require.NoError(t, err)
}

func TestConcurrentConflict_ExactlyOneFinalizes(t *testing.T) {
	h := newHarness(t)
	alice := h.node("Alice")
	bob, carol := h.node("Bob"), h.node("Carol")
	ctx := context.Background()

	issued, err := alice.Issue(ctx, alice.Identity(), 100, contracts.CurrencyRick)
	require.NoError(t, err)
	ref := issued.Tx.Tx.OutputRef(0)

	toBob, err := alice.Builder().Move(ctx, ref, bob.Identity())
	require.NoError(t, err)
	toCarol, err := alice.Builder().Move(ctx, ref, carol.Identity())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tx := range []contracts.Transition{toBob, toCarol} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = alice.Initiator().Run(ctx, tx)
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, contracts.ErrConsumedInputConflict):
			conflicts++
			assert.True(t, contracts.IsRetryable(err))
			var le *contracts.LedgerError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, []contracts.Ref{ref}, le.Conflicts)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	got := balance(t, bob.Vault(), bob.Identity(), contracts.CurrencyRick) + balance(t, carol.Vault(), carol.Identity(), contracts.CurrencyRick)
	assert.Equal(t, 100.0, got)
}

// forger countersigns with the wrong key.
type forger struct {
	as     contracts.Party
	forged func(string) contracts.Signature
}

func (f forger) HandleSignatureRequest(_ context.Context, req session.SignatureRequest) session.SignatureOrRefusal {
	sig := f.forged(req.Tx.Tx.ID)
	sig.Signer = f.as
	return session.Sign(req.SessionID, f.as, sig)
}

func (forger) HandleFinality(context.Context, session.FinalityNotice) error { return nil }

func TestInvalidCountersignature_NeverNotarized(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.node("Alice"), h.node("Bob")
	mallory := h.party("Mallory")
	h.network.Register(bob.Identity(), forger{as: bob.Identity(), forged: func(id string) contracts.Signature {
		sig, _ := h.keys.Sign(id, mallory)
		return sig
	}})

	_, err := alice.Issue(context.Background(), bob.Identity(), 5, contracts.CurrencyMorty)
	require.Error(t, err)
	assert.Equal(t, contracts.KindInvalidSignature, contracts.KindOf(err))
	assert.Zero(t, h.notary.Journal().Len())
}

type countingTransport struct {
	session.Transport
	mu    sync.Mutex
	opens int
}

func (c *countingTransport) OpenSession(ctx context.Context, from, to contracts.Party) (session.Session, error) {
	c.mu.Lock()
	c.opens++
	c.mu.Unlock()
	return c.Transport.OpenSession(ctx, from, to)
}

func TestInvalidTransition_NeverContactsNetwork(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.party("Alice"), h.party("Bob")
	h.node("Bob")
	transport := &countingTransport{Transport: h.network}
	in, err := NewInitiator(InitiatorConfig{
		Self: alice, Keys: h.keys, Store: vault.NewMemoryVault(), Notary: h.notary, Transport: transport,
	})
	require.NoError(t, err)

	seal := func(tx contracts.Transition) contracts.Transition {
		tx.Notary = h.notaryID
		tx, err := tx.Seal()
		require.NoError(t, err)
		return tx
	}
	cases := []struct {
		name string
		tx   contracts.Transition
		kind contracts.ErrorKind
	}{
		{
			name: "zero amount",
			tx: seal(contracts.Transition{
				Intent:          contracts.IntentIssue,
				Outputs:         []contracts.Record{{Issuer: alice, Owner: bob, Amount: 0, Currency: contracts.CurrencyRick}},
				RequiredSigners: []contracts.Party{alice, bob},
			}),
			kind: contracts.KindNonPositiveAmount,
		},
		{
			name: "initiator not a signer",
			tx: seal(contracts.Transition{
				Intent:          contracts.IntentIssue,
				Outputs:         []contracts.Record{{Issuer: bob, Owner: bob, Amount: 1, Currency: contracts.CurrencyRick}},
				RequiredSigners: []contracts.Party{bob},
			}),
			kind: contracts.KindAuthorizationViolation,
		},
		{
			name: "tampered id",
			tx: func() contracts.Transition {
				tx := seal(contracts.Transition{
					Intent:          contracts.IntentIssue,
					Outputs:         []contracts.Record{{Issuer: alice, Owner: bob, Amount: 1, Currency: contracts.CurrencyRick}},
					RequiredSigners: []contracts.Party{alice, bob},
				})
				tx.Outputs[0].Amount = 1000
				return tx
			}(),
			kind: contracts.KindInvalidArgument,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := in.Run(context.Background(), tc.tx)
			require.Error(t, err)
			assert.Equal(t, tc.kind, contracts.KindOf(err))
		})
	}
	assert.Zero(t, transport.opens)
	assert.Zero(t, h.notary.Journal().Len())
}

type hangingHandler struct{ entered chan struct{} }

func (h hangingHandler) HandleSignatureRequest(ctx context.Context, req session.SignatureRequest) session.SignatureOrRefusal {
	close(h.entered)
	<-ctx.Done()
	return session.Refuse(req.SessionID, contracts.Party{}, "cancelled")
}

func (hangingHandler) HandleFinality(context.Context, session.FinalityNotice) error { return nil }

func TestCancelBeforeNotarizing_NoSideEffects(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.node("Alice"), h.node("Bob")
	carol := h.node("Carol")
	hung := hangingHandler{entered: make(chan struct{})}
	h.network.Register(bob.Identity(), hung)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := alice.Issue(ctx, bob.Identity(), 100, contracts.CurrencyRick)
		errc <- err
	}()

	select {
	case <-hung.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("counterparty never received the request")
	}

	// A hung counterparty stalls only its own transition.
	_, err := alice.Issue(context.Background(), carol.Identity(), 1, contracts.CurrencyMorty)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-errc:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled flow did not return")
	}
	assert.Equal(t, 1, h.notary.Journal().Len())
	assert.Equal(t, 0.0, balance(t, alice.Vault(), bob.Identity(), contracts.CurrencyRick))
}

type failingFinality struct {
	session.Handler
}

func (failingFinality) HandleFinality(context.Context, session.FinalityNotice) error {
	return errors.New("disk full")
}

type memoryArchive struct {
	mu   sync.Mutex
	keys []string
}

func (m *memoryArchive) Archive(_ context.Context, stx contracts.SignedTransition) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "tx/" + stx.Tx.ID + ".json"
	m.keys = append(m.keys, key)
	return key, nil
}

func TestFinalized_DeliveryFailureIsReportedNotFatal(t *testing.T) {
	h := newHarness(t)
	archive := &memoryArchive{}
	alice := h.node("Alice", func(c *NodeConfig) { c.Archiver = archive })
	bob := h.node("Bob")
	h.network.Register(bob.Identity(), failingFinality{Handler: bob.Responder()})

	res, err := alice.Issue(context.Background(), bob.Identity(), 7, contracts.CurrencyRick)
	require.NoError(t, err)
	require.Contains(t, res.Undelivered, "Bob")
	assert.Equal(t, StateFinalized, res.Attempt.State)
	assert.Equal(t, 7.0, balance(t, alice.Vault(), bob.Identity(), contracts.CurrencyRick))
	assert.Equal(t, 0.0, balance(t, bob.Vault(), bob.Identity(), contracts.CurrencyRick))

	assert.Equal(t, []string{res.ArchiveKey}, archive.keys)

	// Redelivery catches Bob up and is idempotent.
	notice := session.FinalityNotice{From: alice.Identity(), Tx: res.Tx}
	require.NoError(t, bob.Responder().HandleFinality(context.Background(), notice))
	require.NoError(t, bob.Responder().HandleFinality(context.Background(), notice))
	assert.Equal(t, 7.0, balance(t, bob.Vault(), bob.Identity(), contracts.CurrencyRick))
}

func TestAttempt_StateMachine(t *testing.T) {
	assert.True(t, CanTransition(StateBuilt, StateSelfSigned))
	assert.True(t, CanTransition(StateNotarizing, StateRejected))
	assert.False(t, CanTransition(StateBuilt, StateNotarizing))
	assert.False(t, CanTransition(StateFinalized, StateRejected))
	assert.True(t, StateRejected.Terminal())
	assert.False(t, StateCollectingSignatures.Terminal())

	a := newAttempt("a1", "tx1", nil)
	require.Error(t, a.advance(StateFinalized))
	require.NoError(t, a.advance(StateSelfSigned))
	boom := errors.New("boom")
	require.Equal(t, boom, a.reject(boom))
	a.reject(errors.New("again"))

	snap := a.Snapshot()
	assert.Equal(t, []State{StateBuilt, StateSelfSigned, StateRejected}, snap.History)
	assert.Equal(t, boom, snap.Err)
}
