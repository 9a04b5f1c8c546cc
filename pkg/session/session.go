// Package session carries the signing protocol between parties. A session
// connects an initiator to one counterparty and carries exactly one
// SignatureRequest and one SignatureOrRefusal. Finalized transitions are
// delivered separately as FinalityNotices.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

var (
	// ErrUnknownParty is returned when no handler is registered for a party.
	ErrUnknownParty = errors.New("session: unknown party")
	// ErrSessionClosed is returned when using a closed session.
	ErrSessionClosed = errors.New("session: closed")
)

// Handler is the receiving side of a party: its responder.
type Handler interface {
	HandleSignatureRequest(ctx context.Context, req SignatureRequest) SignatureOrRefusal
	HandleFinality(ctx context.Context, notice FinalityNotice) error
}

// Session is one initiator-to-counterparty conversation.
type Session interface {
	ID() string
	Counterparty() contracts.Party
	Send(ctx context.Context, req SignatureRequest) error
	Receive(ctx context.Context) (SignatureOrRefusal, error)
	Close() error
}

// Transport opens sessions and delivers finality notices.
type Transport interface {
	OpenSession(ctx context.Context, from, to contracts.Party) (Session, error)
	DeliverFinality(ctx context.Context, to contracts.Party, notice FinalityNotice) error
}

// Network is an in-process Transport. Each session is served by its own
// goroutine, so a counterparty that never answers stalls only that session.
type Network struct {
	mu       sync.RWMutex
	handlers map[contracts.Party]Handler
	logger   *slog.Logger
}

func NewNetwork() *Network {
	return &Network{
		handlers: make(map[contracts.Party]Handler),
		logger:   slog.Default().With("component", "session"),
	}
}

// Register attaches h as the handler for p, replacing any earlier one.
func (n *Network) Register(p contracts.Party, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[p] = h
}

// Unregister detaches p. Later sessions to p fail with ErrUnknownParty.
func (n *Network) Unregister(p contracts.Party) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, p)
}

func (n *Network) handler(p contracts.Party) (Handler, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.handlers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParty, p)
	}
	return h, nil
}

func (n *Network) OpenSession(ctx context.Context, from, to contracts.Party) (Session, error) {
	h, err := n.handler(to)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &channelSession{
		id:       uuid.NewString(),
		from:     from,
		to:       to,
		requests: make(chan SignatureRequest, 1),
		replies:  make(chan SignatureOrRefusal, 1),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go s.serve(sctx, h)
	n.logger.DebugContext(ctx, "session opened", "session_id", s.id, "from", from.Name, "to", to.Name)
	return s, nil
}

func (n *Network) DeliverFinality(ctx context.Context, to contracts.Party, notice FinalityNotice) error {
	h, err := n.handler(to)
	if err != nil {
		return err
	}
	return h.HandleFinality(ctx, notice)
}

type channelSession struct {
	id       string
	from, to contracts.Party
	requests chan SignatureRequest
	replies  chan SignatureOrRefusal
	done     chan struct{}
	once     sync.Once
	cancel   context.CancelFunc
}

func (s *channelSession) ID() string                    { return s.id }
func (s *channelSession) Counterparty() contracts.Party { return s.to }

func (s *channelSession) serve(ctx context.Context, h Handler) {
	select {
	case req := <-s.requests:
		reply := h.HandleSignatureRequest(ctx, req)
		reply.SessionID = s.id
		select {
		case s.replies <- reply:
		case <-s.done:
		}
	case <-s.done:
	}
}

func (s *channelSession) Send(ctx context.Context, req SignatureRequest) error {
	req.SessionID = s.id
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.requests <- req:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *channelSession) Receive(ctx context.Context) (SignatureOrRefusal, error) {
	select {
	case <-s.done:
		return SignatureOrRefusal{}, ErrSessionClosed
	default:
	}
	select {
	case reply := <-s.replies:
		return reply, nil
	case <-s.done:
		return SignatureOrRefusal{}, ErrSessionClosed
	case <-ctx.Done():
		return SignatureOrRefusal{}, ctx.Err()
	}
}

func (s *channelSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
	})
	return nil
}
