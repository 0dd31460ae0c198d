// Package mock provides scripted implementations of [live.Provider] and
// [live.Session] for use in unit tests.
//
// Tests drive the inbound side with [Session.Push], [Session.Fail] and
// [Session.End], and inspect the outbound side through [Session.Sent].
//
// Typical usage:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... controller.Connect ...
//	sess.Push(live.Message{Interrupted: true})
package mock

import (
	"context"
	"sync"

	"github.com/orbisvoice/orbis/pkg/live"
)

// Compile-time interface assertions.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*Session)(nil)

// ─── Provider ─────────────────────────────────────────────────────────────────

// Provider is a mock implementation of [live.Provider].
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect when ConnectErr is nil.
	Session *Session

	// ConnectErr is returned by Connect when non-nil.
	ConnectErr error

	// Block makes Connect wait until its context is done or Release is
	// called. Used to exercise Connecting-state behaviour.
	Block bool

	// ConnectCalls records the config of every Connect invocation.
	ConnectCalls []live.Config

	release chan struct{}
}

// Connect implements [live.Provider].
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, cfg)
	block := p.Block
	if block && p.release == nil {
		p.release = make(chan struct{})
	}
	release := p.release
	p.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	return p.Session, nil
}

// Release unblocks pending and future Connect calls when Block is set.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release == nil {
		p.release = make(chan struct{})
	}
	select {
	case <-p.release:
	default:
		close(p.release)
	}
}

// Calls returns the number of Connect invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of [live.Session].
type Session struct {
	mu sync.Mutex

	// SendErr is returned by Send when non-nil.
	SendErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// BlockSend makes Send record the envelope and then wait until Close,
	// like a network write stuck on a stalled peer.
	BlockSend bool

	sent     []live.RealtimeInput
	messages chan live.Message
	errVal   error
	ended    bool
	sentCh   chan struct{}
	closed   chan struct{}
}

// NewSession returns an open Session.
func NewSession() *Session {
	return &Session{
		messages: make(chan live.Message, 64),
		sentCh:   make(chan struct{}, 256),
		closed:   make(chan struct{}),
	}
}

// Send implements [live.Session].
func (s *Session) Send(in live.RealtimeInput) error {
	s.mu.Lock()
	if s.SendErr != nil {
		s.mu.Unlock()
		return s.SendErr
	}
	if s.ended || s.CallCountClose > 0 {
		s.mu.Unlock()
		return live.ErrSessionClosed
	}
	s.sent = append(s.sent, in)
	block := s.BlockSend
	s.mu.Unlock()

	select {
	case s.sentCh <- struct{}{}:
	default:
	}
	if block {
		<-s.closed
		return live.ErrSessionClosed
	}
	return nil
}

// Messages implements [live.Session].
func (s *Session) Messages() <-chan live.Message { return s.messages }

// Err implements [live.Session].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements [live.Session]. It ends the message stream cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.CallCountClose == 1 {
		close(s.closed)
	}
	s.endLocked(nil)
	return s.CloseErr
}

// Push delivers an inbound message. It is a no-op after the stream ended.
func (s *Session) Push(m live.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.messages <- m
}

// Fail ends the stream with a transport error.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

// End ends the stream as a clean remote close.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(nil)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.errVal = err
	close(s.messages)
}

// Sent returns a copy of every envelope passed to Send.
func (s *Session) Sent() []live.RealtimeInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.RealtimeInput, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentNotify receives a value after each Send that recorded its envelope.
func (s *Session) SentNotify() <-chan struct{} { return s.sentCh }

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}
