package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/relayline/relayline/internal/config"
	"github.com/relayline/relayline/internal/observability"
	"github.com/relayline/relayline/internal/protocol"
	"github.com/relayline/relayline/internal/relay"
)

// ConnectionRunner drives one websocket connection worth of inbound
// protocol messages through the session engine.
type ConnectionRunner interface {
	RunConnection(ctx context.Context, t relay.Transport, inbound <-chan any) error
}

type Server struct {
	cfg      config.Config
	engine   ConnectionRunner
	registry *relay.Registry
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, engine ConnectionRunner, registry *relay.Registry, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		registry: registry,
		metrics:  metrics,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Telephony gateways are not browsers and omit Origin;
				// allow those. Browser connections must match the host
				// unless the deployment opts out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleRelayWS)
	r.Get("/v1/sessions", s.handleListSessions)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.registry.Len(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": s.registry.List(),
	})
}

func (s *Server) handleRelayWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = s.engine.RunConnection(ctx, &wsTransport{ctx: ctx, outbound: outbound}, inbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.log.Warn().Err(err).Msg("websocket write failed")
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", messageTypeOf(msg)).Inc()
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseInboundMessage(data)
		if err != nil {
			select {
			case outbound <- protocol.NewError("invalid message: " + err.Error()):
			default:
				// Writes stay single-threaded; drop if the queue is saturated.
			}
			continue
		}

		s.metrics.WSMessages.WithLabelValues("inbound", messageTypeOf(parsed)).Inc()
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// wsTransport bridges the engine's outward sends onto the connection's
// single writer goroutine.
type wsTransport struct {
	ctx      context.Context
	outbound chan<- any
}

func (t *wsTransport) Send(msg any) error {
	select {
	case t.outbound <- msg:
		return nil
	case <-t.ctx.Done():
		return t.ctx.Err()
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func messageTypeOf(v any) string {
	switch m := v.(type) {
	case protocol.Setup:
		return string(m.Type)
	case protocol.Prompt:
		return string(m.Type)
	case protocol.DTMF:
		return string(m.Type)
	case protocol.Interrupt:
		return string(m.Type)
	case protocol.TransportError:
		return string(m.Type)
	case protocol.Text:
		return string(m.Type)
	case protocol.Language:
		return string(m.Type)
	case protocol.End:
		return string(m.Type)
	case protocol.ErrorMessage:
		return string(m.Type)
	default:
		return "unknown"
	}
}
