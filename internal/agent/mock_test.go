package agent

import (
	"context"
	"strings"
	"testing"
)

func TestMockAdapterStreamsOrderedEvents(t *testing.T) {
	a := NewMockAdapter()
	ctx := context.Background()

	id, err := a.CreateThread(ctx, map[string]string{"call_sid": "CA1"})
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if id == "" || a.ThreadID() != id {
		t.Fatalf("thread id mismatch: %q vs %q", id, a.ThreadID())
	}

	if err := a.AddMessage(ctx, RoleUser, "hello world"); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}

	var kinds []EventKind
	var text strings.Builder
	err = a.StreamResponse(ctx, func(ev Event) error {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventTextDelta {
			text.WriteString(ev.Delta)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}

	if len(kinds) < 4 {
		t.Fatalf("too few events: %v", kinds)
	}
	if kinds[0] != EventThinking {
		t.Fatalf("first event = %v, want thinking", kinds[0])
	}
	if kinds[len(kinds)-2] != EventTextComplete || kinds[len(kinds)-1] != EventRunComplete {
		t.Fatalf("tail events = %v, want text_complete then run_complete", kinds[len(kinds)-2:])
	}
	if text.String() != "You said: hello world" {
		t.Fatalf("assembled text = %q", text.String())
	}
}

func TestMockAdapterStopSuppressesRemainingEvents(t *testing.T) {
	a := NewMockAdapter()
	ctx := context.Background()
	_, _ = a.CreateThread(ctx, nil)
	_ = a.AddMessage(ctx, RoleUser, "a fairly long sentence with many words to stream")

	var seen int
	err := a.StreamResponse(ctx, func(ev Event) error {
		seen++
		if seen == 2 {
			a.StopStreaming()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if seen != 2 {
		t.Fatalf("events after stop were delivered, seen = %d", seen)
	}
}

func TestMockAdapterSetThreadIDRestoresContinuity(t *testing.T) {
	a := NewMockAdapter()
	a.SetThreadID("thread-restored")
	if a.ThreadID() != "thread-restored" {
		t.Fatalf("ThreadID() = %q", a.ThreadID())
	}
}

func TestNewFactoryModes(t *testing.T) {
	if _, err := NewFactory(Config{Mode: "http"}); err == nil {
		t.Fatalf("http mode without url should fail")
	}

	f, err := NewFactory(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewFactory(auto) error = %v", err)
	}
	a, err := f()
	if err != nil {
		t.Fatalf("factory error = %v", err)
	}
	if _, ok := a.(*MockAdapter); !ok {
		t.Fatalf("auto without url should build a mock adapter, got %T", a)
	}

	f, err = NewFactory(Config{Mode: "auto", HTTPURL: "http://localhost:9000"})
	if err != nil {
		t.Fatalf("NewFactory(auto+url) error = %v", err)
	}
	a, _ = f()
	if _, ok := a.(*HTTPAdapter); !ok {
		t.Fatalf("auto with url should build an http adapter, got %T", a)
	}

	if _, err := NewFactory(Config{Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}
