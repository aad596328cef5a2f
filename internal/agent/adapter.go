package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message roles accepted by AddMessage.
const (
	RoleUser   = "user"
	RoleSystem = "system"
)

// Adapter is one conversation thread with the AI backend. A session owns
// exactly one adapter; callers must never run two StreamResponse calls
// concurrently on the same adapter.
type Adapter interface {
	// CreateThread starts a fresh backend conversation and returns its id.
	CreateThread(ctx context.Context, metadata map[string]string) (string, error)
	// ThreadID returns the current thread id, empty before CreateThread
	// or SetThreadID.
	ThreadID() string
	// SetThreadID rebinds the adapter to an existing thread, restoring
	// continuity after a reconnect.
	SetThreadID(id string)
	// AddMessage queues one message for the next streamed turn.
	AddMessage(ctx context.Context, role, text string) error
	// StreamResponse produces one turn of events in emission order,
	// returning when the stream ends or has been marked stopped.
	StreamResponse(ctx context.Context, onEvent EventHandler) error
	// StopStreaming cooperatively stops an in-flight stream.
	StopStreaming()
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
}

// Factory builds one adapter per session.
type Factory func() (Adapter, error)

// NewFactory resolves the adapter mode once at startup; every session
// then gets its own adapter instance.
func NewFactory(cfg Config) (Factory, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			url := strings.TrimSpace(cfg.HTTPURL)
			return func() (Adapter, error) { return NewHTTPAdapter(url), nil }, nil
		}
		return func() (Adapter, error) { return NewMockAdapter(), nil }, nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		url := strings.TrimSpace(cfg.HTTPURL)
		return func() (Adapter, error) { return NewHTTPAdapter(url), nil }, nil
	case "mock":
		return func() (Adapter, error) { return NewMockAdapter(), nil }, nil
	default:
		return nil, fmt.Errorf("unsupported agent adapter mode %q", cfg.Mode)
	}
}
