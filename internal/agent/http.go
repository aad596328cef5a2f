package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPAdapter talks to an agent backend over HTTP, consuming NDJSON or
// SSE event streams.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client

	mu       sync.Mutex
	threadID string
	pending  []wireMessage

	stopped atomic.Bool
}

type wireMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type wireEvent struct {
	Type    string          `json:"type"`
	Delta   string          `json:"delta,omitempty"`
	Text    string          `json:"text,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Locale  string          `json:"locale,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
	Message string          `json:"message,omitempty"`
}

func NewHTTPAdapter(baseURL string) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (a *HTTPAdapter) CreateThread(ctx context.Context, metadata map[string]string) (string, error) {
	payload, err := json.Marshal(map[string]any{"metadata": metadata})
	if err != nil {
		return "", fmt.Errorf("marshal thread request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/threads", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create thread request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("agent thread status %d: %s", res.StatusCode, string(body))
	}

	var out struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode thread response: %w", err)
	}
	if out.ThreadID == "" {
		return "", errors.New("agent returned empty thread id")
	}

	a.mu.Lock()
	a.threadID = out.ThreadID
	a.mu.Unlock()
	return out.ThreadID, nil
}

func (a *HTTPAdapter) ThreadID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

func (a *HTTPAdapter) SetThreadID(id string) {
	a.mu.Lock()
	a.threadID = id
	a.mu.Unlock()
}

func (a *HTTPAdapter) AddMessage(ctx context.Context, role, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.pending = append(a.pending, wireMessage{Role: role, Text: text})
	a.mu.Unlock()
	return nil
}

func (a *HTTPAdapter) StreamResponse(ctx context.Context, onEvent EventHandler) error {
	a.stopped.Store(false)

	a.mu.Lock()
	threadID := a.threadID
	msgs := a.pending
	a.pending = nil
	a.mu.Unlock()

	if threadID == "" {
		return errors.New("stream requires a thread; call CreateThread or SetThreadID first")
	}

	payload, err := json.Marshal(map[string]any{"messages": msgs})
	if err != nil {
		return fmt.Errorf("marshal stream request: %w", err)
	}

	url := fmt.Sprintf("%s/threads/%s/stream", a.baseURL, threadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson, text/event-stream")

	res, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("agent stream status %d: %s", res.StatusCode, string(body))
	}

	return a.consumeStream(res.Body, onEvent)
}

func (a *HTTPAdapter) consumeStream(body io.Reader, onEvent EventHandler) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if a.stopped.Load() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}

		var we wireEvent
		if err := json.Unmarshal([]byte(line), &we); err != nil {
			// Tolerate non-JSON noise on the stream rather than killing the turn.
			continue
		}

		ev, ok := we.toEvent()
		if !ok {
			continue
		}
		if onEvent != nil {
			if err := onEvent(ev); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}

func (a *HTTPAdapter) StopStreaming() {
	a.stopped.Store(true)
}

func (we wireEvent) toEvent() (Event, bool) {
	switch EventKind(we.Type) {
	case EventThinking:
		return Event{Kind: EventThinking}, true
	case EventTextDelta:
		return Event{Kind: EventTextDelta, Delta: we.Delta}, true
	case EventTextComplete:
		return Event{Kind: EventTextComplete, Text: we.Text}, true
	case EventToolCall:
		return Event{Kind: EventToolCall, Tool: we.Tool, Args: we.Args}, true
	case EventLanguageSwitch:
		return Event{Kind: EventLanguageSwitch, Locale: we.Locale}, true
	case EventHandoff:
		return Event{Kind: EventHandoff, Handoff: we.Context}, true
	case EventRunComplete:
		return Event{Kind: EventRunComplete}, true
	case EventError:
		return Event{Kind: EventError, Err: errors.New(we.Message)}, true
	default:
		return Event{}, false
	}
}
