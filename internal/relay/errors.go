package relay

import (
	"errors"

	"github.com/chatwave/relay/internal/presence"
)

// Reasons an inbound event is dropped. None of them is ever reported to the
// client; Observe logs and counts them.
var (
	ErrUnknownSender  = errors.New("relay: sender has not joined")
	ErrUnknownTarget  = errors.New("relay: target is not connected")
	ErrUnknownMessage = errors.New("relay: message does not exist")
	ErrAlreadyJoined  = errors.New("relay: connection already joined")
	ErrInvalidPayload = errors.New("relay: invalid payload")
	ErrRateLimited    = errors.New("relay: rate limited")
)

// reason maps a drop error to its metrics label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownSender):
		return "unknown_sender"
	case errors.Is(err, ErrUnknownTarget):
		return "unknown_target"
	case errors.Is(err, ErrUnknownMessage):
		return "unknown_message"
	case errors.Is(err, ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, presence.ErrDuplicateConnection):
		return "duplicate_connection"
	default:
		return "internal"
	}
}
