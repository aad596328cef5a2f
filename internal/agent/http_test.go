package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPAdapterCreateThreadAndStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/threads":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"thread_id":"th-42"}`))
		case "/threads/th-42/stream":
			w.Header().Set("Content-Type", "application/x-ndjson")
			_, _ = w.Write([]byte(
				`{"type":"thinking"}` + "\n" +
					`{"type":"text_delta","delta":"Hi"}` + "\n" +
					`{"type":"text_delta","delta":" there"}` + "\n" +
					`{"type":"text_complete","text":"Hi there"}` + "\n" +
					`{"type":"run_complete"}` + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	ctx := context.Background()

	id, err := a.CreateThread(ctx, map[string]string{"call_sid": "CA1"})
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if id != "th-42" {
		t.Fatalf("thread id = %q, want th-42", id)
	}

	if err := a.AddMessage(ctx, RoleUser, "hello"); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}

	var kinds []EventKind
	var deltas []string
	err = a.StreamResponse(ctx, func(ev Event) error {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventTextDelta {
			deltas = append(deltas, ev.Delta)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}

	want := []EventKind{EventThinking, EventTextDelta, EventTextDelta, EventTextComplete, EventRunComplete}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
	if deltas[0] != "Hi" || deltas[1] != " there" {
		t.Fatalf("deltas = %v", deltas)
	}
}

func TestHTTPAdapterStreamRequiresThread(t *testing.T) {
	a := NewHTTPAdapter("http://localhost:1")
	err := a.StreamResponse(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected error without thread id")
	}
}

func TestHTTPAdapterSSEFraming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/th-1/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"type\":\"text_delta\",\"delta\":\"ok\"}\n\n" +
				"data: {\"type\":\"run_complete\"}\n\n"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	a.SetThreadID("th-1")

	var kinds []EventKind
	err := a.StreamResponse(context.Background(), func(ev Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if len(kinds) != 2 || kinds[0] != EventTextDelta || kinds[1] != EventRunComplete {
		t.Fatalf("kinds = %v", kinds)
	}
}
