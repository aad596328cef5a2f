package agent

import "encoding/json"

// EventKind enumerates the closed set of semantic stream events.
type EventKind string

const (
	EventThinking       EventKind = "thinking"
	EventTextDelta      EventKind = "text_delta"
	EventTextComplete   EventKind = "text_complete"
	EventToolCall       EventKind = "tool_call"
	EventLanguageSwitch EventKind = "language_switch"
	EventHandoff        EventKind = "handoff"
	EventRunComplete    EventKind = "run_complete"
	EventError          EventKind = "error"
)

// Event is one entry of a streamed response. Which fields are set
// depends on Kind; consumers switch on Kind and read only its fields.
type Event struct {
	Kind    EventKind
	Delta   string          // EventTextDelta
	Text    string          // EventTextComplete
	Tool    string          // EventToolCall
	Args    json.RawMessage // EventToolCall
	Locale  string          // EventLanguageSwitch
	Handoff json.RawMessage // EventHandoff
	Err     error           // EventError
}

// EventHandler consumes stream events in emission order. Returning an
// error aborts the stream.
type EventHandler func(Event) error
