// Package protocol defines the WebSocket event types and payloads exchanged
// between chat clients and the relay. Every frame is a JSON object of the form
// {"type": "<event>", "data": <payload>} in both directions.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeJoin              = "join"
	TypeSendMessage       = "send_message"
	TypeReactMessage      = "react_message"
	TypeTypingStart       = "typing_start"
	TypeTypingStop        = "typing_stop"
	TypeSignal            = "signal"
	TypeScreenShare       = "screen_share_upcoming"
	TypePrivateMessage    = "private_message"
	TypeGetPrivateHistory = "get_private_history"
	TypePing              = "ping"
)

// Server -> Client event types. TypeSignal, TypeScreenShare and
// TypePrivateMessage are used in both directions.
const (
	TypeConnected      = "connected"
	TypeMessage        = "message"
	TypeMessageHistory = "message_history"
	TypePresenceList   = "presence_list"
	TypeUserTyping     = "user_typing"
	TypeUserStopTyping = "user_stop_typing"
	TypePrivateHistory = "private_history"
	TypeRateLimited    = "rate_limited"
	TypePong           = "pong"
)

// SignalBroadcast is the "to" value that fans a signal out to every other
// joined connection.
const SignalBroadcast = "all"

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope is the outer frame. Data is kept raw so that the payload can be
// decoded into the concrete struct once the type is known.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalJSON rejects frames without a type discriminator.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var partial struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	e.Data = partial.Data
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server payloads
// ---------------------------------------------------------------------------

// JoinMsg registers the connection under a display name.
type JoinMsg struct {
	Username string `json:"username" validate:"required,max=64"`
	Avatar   string `json:"avatar,omitempty" validate:"omitempty,max=2048"`
}

// SendMessageMsg appends a broadcast message. Type is one of text, image or
// file and defaults to text.
type SendMessageMsg struct {
	Type     string `json:"type,omitempty" validate:"omitempty,oneof=text image file"`
	Content  string `json:"content"`
	FileName string `json:"fileName,omitempty" validate:"max=255"`
	FileType string `json:"fileType,omitempty" validate:"max=255"`
	FileData string `json:"fileData,omitempty"`
}

// ReactMessageMsg toggles the sender's reaction on a broadcast message.
type ReactMessageMsg struct {
	MessageID string `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

// SignalMsg carries an opaque negotiation payload. Data is never decoded.
type SignalMsg struct {
	To   string          `json:"to" validate:"required"`
	Data json.RawMessage `json:"data"`
}

// ScreenShareMsg announces that the sender is about to share a screen.
type ScreenShareMsg struct {
	Username string `json:"username"`
}

// PrivateMessageMsg is a direct message to a single connection.
type PrivateMessageMsg struct {
	To      string `json:"to" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// PrivateHistoryRequest asks for the private log shared with WithID.
type PrivateHistoryRequest struct {
	WithID string `json:"withId" validate:"required"`
}

// TypingMsg carries no payload; the event type says start or stop.
type TypingMsg struct{}

// PingMsg is a client-initiated keepalive.
type PingMsg struct{}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// ConnectedMsg tells a fresh connection its own id.
type ConnectedMsg struct {
	ID string `json:"id"`
}

// SignalRelayMsg is a relayed signal. From is always set by the server.
type SignalRelayMsg struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

// ScreenShareNoticeMsg is the relayed screen share announcement.
type ScreenShareNoticeMsg struct {
	Username string `json:"username"`
}

// PrivateHistoryMsg answers get_private_history.
type PrivateHistoryMsg struct {
	WithID  string      `json:"withId"`
	History interface{} `json:"history"`
}

// RateLimitedMsg is sent when the client exceeded its message budget.
type RateLimitedMsg struct {
	RetryAfter int `json:"retryAfter"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

var validate = validator.New()

// ParseClientMessage parses raw WebSocket bytes into a typed client payload.
// It returns the event type, the decoded struct, and any error encountered
// while decoding or validating. Unknown and server-only types are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = decode(env.Data, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = decode(env.Data, &m)
		msg = m
	case TypeReactMessage:
		var m ReactMessageMsg
		err = decode(env.Data, &m)
		msg = m
	case TypeTypingStart, TypeTypingStop:
		msg = TypingMsg{}
	case TypeSignal:
		var m SignalMsg
		err = decode(env.Data, &m)
		msg = m
	case TypeScreenShare:
		var m ScreenShareMsg
		err = decode(env.Data, &m)
		msg = m
	case TypePrivateMessage:
		var m PrivateMessageMsg
		err = decode(env.Data, &m)
		msg = m
	case TypeGetPrivateHistory:
		var m PrivateHistoryRequest
		err = decode(env.Data, &m)
		msg = m
	case TypePing:
		msg = PingMsg{}
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: invalid %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// decode unmarshals a payload and runs its validation tags. A missing or null
// payload decodes into the zero value before validation.
func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, v); err != nil {
			return err
		}
	}
	return validate.Struct(v)
}

// NewServerMessage encodes an outbound event. A nil payload produces a frame
// without a "data" field.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	out, err := json.Marshal(struct {
		Type string      `json:"type"`
		Data interface{} `json:"data,omitempty"`
	}{Type: msgType, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
