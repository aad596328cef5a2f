package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayline/relayline/internal/agent"
	"github.com/relayline/relayline/internal/dtmf"
	"github.com/relayline/relayline/internal/idle"
)

// Transport delivers outward protocol messages to the caller's connection.
type Transport interface {
	Send(msg any) error
}

// State is the session lifecycle phase.
type State string

const (
	StateActive       State = "active"
	StatePendingGrace State = "pending_grace"
	StateDestroyed    State = "destroyed"
)

type turnRequest struct {
	role string
	text string
}

// Session is the durable conversational context for one call. It owns
// exactly one adapter, one keypad machine, one idle timer, and at most
// one live transport at any instant.
type Session struct {
	ID        string
	CreatedAt time.Time
	Restored  bool

	adapter agent.Adapter
	idle    *idle.Timer

	keypadMu sync.Mutex
	keypad   *dtmf.Machine

	mu        sync.Mutex
	state     State
	transport Transport
	destroy   *time.Timer

	// turns serializes agent sends per session: enqueue order is the
	// order AddMessage/StreamResponse run, so a prompt and a completing
	// keypad entry can never interleave on the adapter.
	turns  chan turnRequest
	ctx    context.Context
	cancel context.CancelFunc

	streamSeq atomic.Uint64
	handedOff atomic.Bool
}

const defaultTurnQueueDepth = 16

func newSession(id string, adapter agent.Adapter, keypad *dtmf.Machine, t Transport, queueDepth int) *Session {
	if queueDepth < 1 {
		queueDepth = defaultTurnQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		adapter:   adapter,
		keypad:    keypad,
		state:     StateActive,
		transport: t,
		turns:     make(chan turnRequest, queueDepth),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ThreadID exposes the adapter's backend thread id.
func (s *Session) ThreadID() string {
	return s.adapter.ThreadID()
}

// rebind points the session at a new transport, cancelling any pending
// destruction. Returns false if the session is already destroyed.
func (s *Session) rebind(t Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		return false
	}
	if s.destroy != nil {
		s.destroy.Stop()
		s.destroy = nil
	}
	s.state = StateActive
	s.transport = t
	return true
}

// detachTransport releases t if it is still the bound transport. Returns
// false when a rebind already moved the session to a newer connection.
func (s *Session) detachTransport(t Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport != t {
		return false
	}
	s.transport = nil
	if s.state == StateActive {
		s.state = StatePendingGrace
	}
	return true
}

func (s *Session) currentTransport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// scheduleDestroy arms the grace-period destruction; the handle is kept
// so a rebind can cancel it before it fires.
func (s *Session) scheduleDestroy(grace time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroy != nil {
		s.destroy.Stop()
	}
	s.destroy = time.AfterFunc(grace, fn)
}

// markDestroyed transitions to StateDestroyed; false when a rebind won
// the race or the session is already gone.
func (s *Session) markDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePendingGrace {
		return false
	}
	s.state = StateDestroyed
	if s.destroy != nil {
		s.destroy.Stop()
		s.destroy = nil
	}
	return true
}

func (s *Session) processDigit(digit string) dtmf.Result {
	s.keypadMu.Lock()
	defer s.keypadMu.Unlock()
	return s.keypad.ProcessDigit(digit)
}

func (s *Session) resetKeypad() {
	s.keypadMu.Lock()
	defer s.keypadMu.Unlock()
	s.keypad.Reset()
}

func (s *Session) setKeypadMode(mode dtmf.Mode, lengthOverride int) error {
	s.keypadMu.Lock()
	defer s.keypadMu.Unlock()
	return s.keypad.SetMode(mode, lengthOverride)
}

func (s *Session) keypadMode() dtmf.Mode {
	s.keypadMu.Lock()
	defer s.keypadMu.Unlock()
	return s.keypad.Mode()
}
