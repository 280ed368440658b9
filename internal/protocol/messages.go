package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage  MessageType = "client_message"
	TypeClientControl  MessageType = "client_control"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeEscalation     MessageType = "escalation"
	TypeSessionState   MessageType = "session_state"
	TypeErrorEvent     MessageType = "error_event"
)

// Control actions a client may send.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionEnd    = "end"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid client message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

// AssistantReply carries one turn result. Reply is the coach reply encoded as-is.
type AssistantReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Reply     any         `json:"reply"`
}

type Escalation struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	Category       string      `json:"category,omitempty"`
	CrisisContacts any         `json:"crisis_contacts"`
}

type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Status    string      `json:"status"`
	Summary   string      `json:"summary,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail,omitempty"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("%w: client_message needs session_id and text", ErrInvalidMessage)
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("%w: client_control needs session_id", ErrInvalidMessage)
		}
		switch msg.Action {
		case ActionPause, ActionResume, ActionEnd:
		default:
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidMessage, msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
