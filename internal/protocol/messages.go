package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies relay websocket payload variants.
type MessageType string

// Inbound message types, one JSON object per frame.
const (
	TypeSetup     MessageType = "setup"
	TypePrompt    MessageType = "prompt"
	TypeDTMF      MessageType = "dtmf"
	TypeInterrupt MessageType = "interrupt"
	TypeError     MessageType = "error"
)

// Outbound message types. TypeError doubles as the outward error frame.
const (
	TypeText     MessageType = "text"
	TypeLanguage MessageType = "language"
	TypeEnd      MessageType = "end"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Setup binds the connection to a call session.
type Setup struct {
	Type    MessageType `json:"type"`
	CallSID string      `json:"callSid"`
}

// Prompt carries one transcribed caller utterance.
type Prompt struct {
	Type        MessageType `json:"type"`
	VoicePrompt string      `json:"voicePrompt"`
	Lang        string      `json:"lang,omitempty"`
}

// DTMF carries a single keypad character.
type DTMF struct {
	Type  MessageType `json:"type"`
	Digit string      `json:"digit"`
}

// Interrupt signals the caller spoke over the assistant reply.
type Interrupt struct {
	Type                    MessageType `json:"type"`
	UtteranceUntilInterrupt string      `json:"utteranceUntilInterrupt,omitempty"`
}

// TransportError is a transport-reported failure; logged, never fatal.
type TransportError struct {
	Type        MessageType `json:"type"`
	Description string      `json:"description,omitempty"`
}

// Text is one streamed reply token. The final frame of a turn carries
// an empty token with Last set.
type Text struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
	Last  bool        `json:"last"`
}

// Language announces a validated conversation language switch.
type Language struct {
	Type                  MessageType `json:"type"`
	TTSLanguage           string      `json:"ttsLanguage"`
	TranscriptionLanguage string      `json:"transcriptionLanguage"`
}

// End terminates the relay's involvement, handing the call to a human.
type End struct {
	Type        MessageType `json:"type"`
	HandoffData string      `json:"handoffData"`
}

// ErrorMessage surfaces a recoverable failure to the transport.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewText(token string, last bool) Text {
	return Text{Type: TypeText, Token: token, Last: last}
}

func NewLanguage(ttsLang, transcriptionLang string) Language {
	return Language{Type: TypeLanguage, TTSLanguage: ttsLang, TranscriptionLanguage: transcriptionLang}
}

func NewEnd(handoffData string) End {
	return End{Type: TypeEnd, HandoffData: handoffData}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// ParseInboundMessage validates a raw frame into one of the five inbound
// variants. Anything else is rejected so the caller can answer with an
// outward error instead of silently dropping frames.
func ParseInboundMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSetup:
		var msg Setup
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallSID == "" {
			return nil, errors.New("setup requires callSid")
		}
		return msg, nil
	case TypePrompt:
		var msg Prompt
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.VoicePrompt == "" {
			return nil, errors.New("prompt requires voicePrompt")
		}
		return msg, nil
	case TypeDTMF:
		var msg DTMF
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if len(msg.Digit) != 1 || !isDTMFChar(msg.Digit[0]) {
			return nil, fmt.Errorf("invalid dtmf digit %q", msg.Digit)
		}
		return msg, nil
	case TypeInterrupt:
		var msg Interrupt
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeError:
		var msg TransportError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func isDTMFChar(c byte) bool {
	return (c >= '0' && c <= '9') || c == '*' || c == '#'
}
