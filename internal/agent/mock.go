package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// MockAdapter provides deterministic local replies when no backend is
// configured. It streams word-sized deltas so relay code exercises the
// same paths a real backend would.
type MockAdapter struct {
	mu       sync.Mutex
	threadID string
	pending  []mockMessage
	stopped  atomic.Bool
}

type mockMessage struct {
	role string
	text string
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) CreateThread(ctx context.Context, _ map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "thread-" + uuid.NewString()
	a.mu.Lock()
	a.threadID = id
	a.mu.Unlock()
	return id, nil
}

func (a *MockAdapter) ThreadID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

func (a *MockAdapter) SetThreadID(id string) {
	a.mu.Lock()
	a.threadID = id
	a.mu.Unlock()
}

func (a *MockAdapter) AddMessage(ctx context.Context, role, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.pending = append(a.pending, mockMessage{role: role, text: text})
	a.mu.Unlock()
	return nil
}

func (a *MockAdapter) StreamResponse(ctx context.Context, onEvent EventHandler) error {
	a.stopped.Store(false)

	a.mu.Lock()
	msgs := a.pending
	a.pending = nil
	a.mu.Unlock()

	reply := buildMockReply(msgs)

	emit := func(ev Event) (bool, error) {
		if a.stopped.Load() {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if onEvent == nil {
			return true, nil
		}
		return true, onEvent(ev)
	}

	if ok, err := emit(Event{Kind: EventThinking}); !ok || err != nil {
		return err
	}
	for i, word := range strings.Fields(reply) {
		delta := word
		if i > 0 {
			delta = " " + word
		}
		if ok, err := emit(Event{Kind: EventTextDelta, Delta: delta}); !ok || err != nil {
			return err
		}
	}
	if ok, err := emit(Event{Kind: EventTextComplete, Text: reply}); !ok || err != nil {
		return err
	}
	_, err := emit(Event{Kind: EventRunComplete})
	return err
}

func (a *MockAdapter) StopStreaming() {
	a.stopped.Store(true)
}

func buildMockReply(msgs []mockMessage) string {
	var lastUser, lastSystem string
	for _, m := range msgs {
		switch m.role {
		case RoleUser:
			lastUser = strings.TrimSpace(m.text)
		case RoleSystem:
			lastSystem = strings.TrimSpace(m.text)
		}
	}
	if lastUser != "" {
		return fmt.Sprintf("You said: %s", lastUser)
	}
	if lastSystem != "" {
		return fmt.Sprintf("Noted: %s", lastSystem)
	}
	return "I'm listening."
}
