package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayline/relayline/internal/agent"
	"github.com/relayline/relayline/internal/config"
	"github.com/relayline/relayline/internal/dtmf"
	"github.com/relayline/relayline/internal/idle"
	"github.com/relayline/relayline/internal/observability"
	"github.com/relayline/relayline/internal/protocol"
	"github.com/relayline/relayline/internal/store"
)

const (
	persistTimeout = 2 * time.Second

	reconnectNotice = "The caller reconnected mid-call. The tail of their last " +
		"utterance may have been lost; briefly ask them to repeat anything unfinished."

	idleNotice = "No keypad input was received in time and the partial entry was " +
		"discarded. Ask the caller how they would like to proceed."
)

// Tool names the engine acts on; anything else is logged and ignored.
const toolCollectDigits = "collect_digits"

// Engine is the session protocol controller. It routes inbound protocol
// messages, owns rebind/grace lifecycles, and relays agent stream events
// back to the transport.
type Engine struct {
	cfg        config.Config
	registry   *Registry
	snapshots  store.Store
	newAdapter agent.Factory
	metrics    *observability.Metrics
	log        zerolog.Logger

	// setupMu makes resolve-or-create atomic: concurrent setups for one
	// call id must converge on a single session instead of racing past
	// the registry lookup and overwriting each other.
	setupMu sync.Mutex
}

func NewEngine(
	cfg config.Config,
	registry *Registry,
	snapshots store.Store,
	newAdapter agent.Factory,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		registry:   registry,
		snapshots:  snapshots,
		newAdapter: newAdapter,
		metrics:    metrics,
		log:        log,
	}
}

// RunConnection drives one transport connection until ctx is cancelled or
// the inbound channel closes. Nothing in here is fatal to the process:
// every failure is logged and surfaced as an outward error message.
func (e *Engine) RunConnection(ctx context.Context, t Transport, inbound <-chan any) error {
	var sess *Session
	defer func() {
		if sess != nil {
			e.TransportClosed(sess, t)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.Setup:
				if sess != nil && sess.ID != m.CallSID {
					// One connection drives one call at a time; switching
					// ids releases the previous session into its grace
					// window instead of leaving it active forever.
					e.TransportClosed(sess, t)
					sess = nil
				}
				s, err := e.Setup(ctx, t, m.CallSID)
				if err != nil {
					e.log.Error().Err(err).Str("call_sid", m.CallSID).Msg("session setup failed")
					e.sendTo(t, protocol.NewError("session setup failed"))
					continue
				}
				sess = s
			case protocol.Prompt:
				if !e.requireActive(t, sess) {
					continue
				}
				e.HandlePrompt(sess, m.VoicePrompt)
			case protocol.DTMF:
				if !e.requireActive(t, sess) {
					continue
				}
				e.HandleDTMF(sess, m.Digit)
			case protocol.Interrupt:
				if !e.requireActive(t, sess) {
					continue
				}
				e.HandleInterrupt(sess)
			case protocol.TransportError:
				e.log.Warn().Str("description", m.Description).Msg("transport reported error")
				if sess != nil {
					// A close event follows independently; persist now so
					// continuity survives even an abrupt teardown.
					e.persist(sess)
				}
			default:
				e.log.Warn().Type("kind", msg).Msg("unhandled inbound message kind")
			}
		}
	}
}

// Setup resolves or creates the session for a call id and binds it to the
// connection. An unexpired snapshot restores the backend thread; a live
// session is rebound in place.
func (e *Engine) Setup(ctx context.Context, t Transport, callSID string) (*Session, error) {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()

	if existing, ok := e.registry.Get(callSID); ok {
		if existing.rebind(t) {
			e.metrics.SessionEvents.WithLabelValues("rebound").Inc()
			e.log.Info().Str("call_sid", callSID).Msg("session rebound to new transport")
			return existing, nil
		}
		// Destroyed between lookup and rebind; fall through to a fresh session.
		e.registry.Remove(callSID)
	}

	adapter, err := e.newAdapter()
	if err != nil {
		return nil, fmt.Errorf("build agent adapter: %w", err)
	}
	keypad, err := dtmf.NewMachine(dtmf.Mode(e.cfg.BaseDTMFMode))
	if err != nil {
		return nil, fmt.Errorf("build dtmf machine: %w", err)
	}

	s := newSession(callSID, adapter, keypad, t, e.cfg.TurnQueueDepth)
	s.idle = idle.NewTimer(e.cfg.IdleTimeout, func() { e.idleTimeout(s) })

	snap, restored, err := e.snapshots.Restore(ctx, callSID)
	if err != nil {
		// A continuity cache problem must not block call setup.
		e.log.Warn().Err(err).Str("call_sid", callSID).Msg("snapshot restore failed, starting fresh")
		restored = false
	}
	if restored {
		adapter.SetThreadID(snap.ThreadID)
		s.Restored = true
	} else if _, err := adapter.CreateThread(ctx, map[string]string{"call_sid": callSID}); err != nil {
		s.cancel()
		return nil, fmt.Errorf("create agent thread: %w", err)
	}

	e.registry.Put(s)
	go e.turnLoop(s)

	if s.Restored {
		e.metrics.SessionEvents.WithLabelValues("restored").Inc()
		e.log.Info().Str("call_sid", callSID).Str("thread_id", snap.ThreadID).Msg("session restored from snapshot")
		e.enqueueTurn(s, agent.RoleSystem, reconnectNotice)
	} else {
		e.metrics.SessionEvents.WithLabelValues("created").Inc()
		e.log.Info().Str("call_sid", callSID).Msg("session created")
		if e.cfg.WelcomeGreeting != "" {
			e.enqueueTurn(s, agent.RoleSystem, e.cfg.WelcomeGreeting)
		}
	}
	e.metrics.ActiveSessions.Set(float64(e.registry.Len()))
	return s, nil
}

// HandlePrompt forwards a caller utterance as a fire-and-forget turn.
func (e *Engine) HandlePrompt(s *Session, text string) {
	e.enqueueTurn(s, agent.RoleUser, text)
}

// HandleDTMF feeds one keypad digit through the session's machine.
func (e *Engine) HandleDTMF(s *Session, digit string) {
	res := s.processDigit(digit)
	s.idle.Restart()

	switch res.Kind {
	case dtmf.ResultPending:
		e.log.Debug().Str("call_sid", s.ID).Int("received", res.Received).Int("expected", res.Expected).Msg("keypad entry in progress")
	case dtmf.ResultComplete:
		s.idle.Clear()
		e.metrics.DTMFCompletions.WithLabelValues(string(res.Mode), "complete").Inc()
		msg := e.dtmfCompletionMessage(s, res)
		s.resetKeypad()
		e.enqueueTurn(s, agent.RoleSystem, msg)
	case dtmf.ResultOverflow:
		s.idle.Clear()
		e.metrics.DTMFCompletions.WithLabelValues(string(res.Mode), "overflow").Inc()
		mode := res.Mode
		s.resetKeypad()
		e.enqueueTurn(s, agent.RoleSystem, overflowNotice(mode))
	}
}

// HandleInterrupt stops the in-flight stream best-effort and marks it so
// late events are suppressed before emission.
func (e *Engine) HandleInterrupt(s *Session) {
	s.streamSeq.Add(1)
	s.adapter.StopStreaming()
	e.metrics.SessionEvents.WithLabelValues("interrupted").Inc()
	e.log.Debug().Str("call_sid", s.ID).Msg("caller interrupted reply stream")
}

// TransportClosed persists continuity and schedules grace-period
// destruction. A rebind that already happened makes this a no-op.
func (e *Engine) TransportClosed(s *Session, t Transport) {
	if !s.detachTransport(t) {
		return
	}
	s.idle.Clear()
	e.persist(s)
	e.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	e.log.Info().Str("call_sid", s.ID).Dur("grace", e.cfg.GracePeriod).Msg("transport closed, grace period started")
	s.scheduleDestroy(e.cfg.GracePeriod, func() { e.destroySession(s) })
}

// Shutdown persists every live session so a quick restart can restore
// threads within the snapshot TTL.
func (e *Engine) Shutdown(ctx context.Context) {
	for _, s := range e.registry.All() {
		if threadID := s.adapter.ThreadID(); threadID != "" {
			if err := e.snapshots.Save(ctx, store.Snapshot{SessionID: s.ID, ThreadID: threadID}); err != nil {
				e.log.Warn().Err(err).Str("call_sid", s.ID).Msg("shutdown snapshot save failed")
			}
		}
		s.cancel()
	}
}

func (e *Engine) idleTimeout(s *Session) {
	if s.State() != StateActive {
		return
	}
	s.resetKeypad()
	e.metrics.IdleTimeouts.Inc()
	e.log.Info().Str("call_sid", s.ID).Msg("keypad input timed out")
	e.enqueueTurn(s, agent.RoleSystem, idleNotice)
}

func (e *Engine) enqueueTurn(s *Session, role, text string) {
	if s.handedOff.Load() {
		return
	}
	select {
	case s.turns <- turnRequest{role: role, text: text}:
	default:
		// Keep dispatch non-blocking; a saturated turn queue means the
		// backend is badly behind, and dropping is the lesser failure.
		e.log.Warn().Str("call_sid", s.ID).Msg("turn queue full, dropping message")
	}
}

// turnLoop is the per-session worker that serializes AddMessage and
// StreamResponse, preserving send/response ordering on one adapter.
func (e *Engine) turnLoop(s *Session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.turns:
			e.relayTurn(s, req)
		}
	}
}

func (e *Engine) relayTurn(s *Session, req turnRequest) {
	seq := s.streamSeq.Add(1)

	if err := s.adapter.AddMessage(s.ctx, req.role, req.text); err != nil {
		e.log.Error().Err(err).Str("call_sid", s.ID).Msg("agent message send failed")
		e.send(s, protocol.NewError("agent request failed"))
		return
	}

	err := s.adapter.StreamResponse(s.ctx, func(ev agent.Event) error {
		if s.streamSeq.Load() != seq {
			// The stream was marked stopped; suppress before emission.
			return nil
		}
		e.relayEvent(s, ev)
		return nil
	})
	if err != nil && s.ctx.Err() == nil {
		e.log.Error().Err(err).Str("call_sid", s.ID).Msg("agent stream failed")
		e.send(s, protocol.NewError("agent stream failed"))
	}
}

func (e *Engine) relayEvent(s *Session, ev agent.Event) {
	e.metrics.AdapterEvents.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case agent.EventThinking:
		e.log.Debug().Str("call_sid", s.ID).Msg("agent thinking")
	case agent.EventTextDelta:
		e.send(s, protocol.NewText(ev.Delta, false))
	case agent.EventTextComplete:
		e.send(s, protocol.NewText("", true))
	case agent.EventToolCall:
		e.handleToolCall(s, ev)
	case agent.EventLanguageSwitch:
		e.switchLanguage(s, ev.Locale)
	case agent.EventHandoff:
		e.send(s, protocol.NewEnd(string(ev.Handoff)))
		s.handedOff.Store(true)
		s.streamSeq.Add(1)
		s.adapter.StopStreaming()
		e.metrics.SessionEvents.WithLabelValues("handoff").Inc()
		e.log.Info().Str("call_sid", s.ID).Msg("call handed off")
	case agent.EventRunComplete:
		e.log.Debug().Str("call_sid", s.ID).Msg("agent run complete")
	case agent.EventError:
		e.log.Error().Err(ev.Err).Str("call_sid", s.ID).Msg("agent stream error")
		e.send(s, protocol.NewError("agent error; please try again"))
	}
}

func (e *Engine) handleToolCall(s *Session, ev agent.Event) {
	switch ev.Tool {
	case toolCollectDigits:
		var args struct {
			Type   string `json:"type"`
			Length int    `json:"length"`
		}
		if len(ev.Args) > 0 {
			if err := json.Unmarshal(ev.Args, &args); err != nil {
				e.log.Warn().Err(err).Str("call_sid", s.ID).Msg("bad collect_digits args")
				return
			}
		}
		mode := dtmf.Mode(args.Type)
		if err := s.setKeypadMode(mode, args.Length); err != nil {
			e.log.Warn().Err(err).Str("call_sid", s.ID).Msg("collect_digits requested unknown mode")
			return
		}
		s.idle.Start()
		e.log.Info().Str("call_sid", s.ID).Str("mode", args.Type).Msg("keypad collection armed")
	default:
		e.log.Warn().Str("call_sid", s.ID).Str("tool", ev.Tool).Msg("ignoring unknown tool call")
	}
}

func (e *Engine) switchLanguage(s *Session, locale string) {
	if !e.supportedLanguage(locale) {
		e.log.Warn().Str("call_sid", s.ID).Str("locale", locale).Msg("dropping unsupported language switch")
		return
	}
	e.send(s, protocol.NewLanguage(locale, locale))
	e.log.Info().Str("call_sid", s.ID).Str("locale", locale).Msg("conversation language switched")
}

func (e *Engine) supportedLanguage(locale string) bool {
	for _, l := range e.cfg.SupportedLanguages {
		if l == locale {
			return true
		}
	}
	return false
}

func (e *Engine) dtmfCompletionMessage(s *Session, res dtmf.Result) string {
	switch res.Mode {
	case dtmf.ModePhoneNumber:
		return fmt.Sprintf("Caller entered a phone number via keypad: %s.", res.Value)
	case dtmf.ModeDateOfBirth:
		return fmt.Sprintf("Caller entered a date of birth via keypad: %s.", res.Value)
	case dtmf.ModeConfirmation:
		return fmt.Sprintf("Caller answered %q via keypad.", res.Value)
	case dtmf.ModeMenuSelection:
		return fmt.Sprintf("Caller selected menu option %s via keypad.", res.Value)
	case dtmf.ModeLanguageSwitch:
		locale := e.keypadLocale(res.Value)
		if locale == "" {
			return "Caller pressed a language-switch key but no alternate language is configured."
		}
		e.switchLanguage(s, locale)
		return fmt.Sprintf("Caller switched the conversation language to %s via keypad. Continue in %s.", locale, locale)
	default:
		return fmt.Sprintf("Caller entered %s via keypad.", res.Value)
	}
}

// keypadLocale maps the machine's primary/secondary meaning onto the
// configured language list.
func (e *Engine) keypadLocale(meaning string) string {
	switch meaning {
	case "primary":
		if len(e.cfg.SupportedLanguages) > 0 {
			return e.cfg.SupportedLanguages[0]
		}
	case "secondary":
		if len(e.cfg.SupportedLanguages) > 1 {
			return e.cfg.SupportedLanguages[1]
		}
	}
	return ""
}

func overflowNotice(mode dtmf.Mode) string {
	return fmt.Sprintf("Keypad entry for %s overflowed and was discarded with no value. "+
		"Ask the caller to re-enter it.", strings.ReplaceAll(string(mode), "_", " "))
}

func (e *Engine) persist(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	threadID := s.adapter.ThreadID()
	if threadID == "" {
		return
	}
	if err := e.snapshots.Save(ctx, store.Snapshot{SessionID: s.ID, ThreadID: threadID}); err != nil {
		e.log.Warn().Err(err).Str("call_sid", s.ID).Msg("snapshot save failed")
	}
}

func (e *Engine) destroySession(s *Session) {
	if !s.markDestroyed() {
		return
	}
	s.cancel()
	s.idle.Clear()
	e.registry.Remove(s.ID)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.snapshots.Delete(ctx, s.ID); err != nil {
		e.log.Warn().Err(err).Str("call_sid", s.ID).Msg("snapshot delete failed")
	}

	e.metrics.SessionEvents.WithLabelValues("destroyed").Inc()
	e.metrics.ActiveSessions.Set(float64(e.registry.Len()))
	e.log.Info().Str("call_sid", s.ID).Msg("session destroyed after grace period")
}

func (e *Engine) requireActive(t Transport, s *Session) bool {
	if s == nil || s.State() != StateActive {
		e.sendTo(t, protocol.NewError("no active session; send setup first"))
		return false
	}
	return true
}

func (e *Engine) send(s *Session, msg any) {
	if s.handedOff.Load() {
		if _, ok := msg.(protocol.End); !ok {
			return
		}
	}
	t := s.currentTransport()
	if t == nil {
		e.log.Debug().Str("call_sid", s.ID).Msg("no transport bound, dropping outward message")
		return
	}
	e.sendTo(t, msg)
}

func (e *Engine) sendTo(t Transport, msg any) {
	if err := t.Send(msg); err != nil {
		e.log.Warn().Err(err).Msg("outward send failed")
	}
}
