package core

import (
	"context"
	"encoding/json"

	"github.com/akorchemkin/confpanel/internal/domain"
)

// Frame is a raw bus payload.
type Frame []byte

// SessionKey identifies one user session; bridges are registered under it.
type SessionKey string

type BusEventType int

const (
	BusConnecting BusEventType = iota
	BusConnected
	BusMessage
	BusPong
	BusError
	BusClosed
)

func (t BusEventType) String() string {
	switch t {
	case BusConnecting:
		return "connecting"
	case BusConnected:
		return "connected"
	case BusMessage:
		return "message"
	case BusPong:
		return "pong"
	case BusError:
		return "error"
	case BusClosed:
		return "closed"
	}
	return "unknown"
}

// BusEvent is one lifecycle or payload event from an upstream bus connection.
type BusEvent struct {
	Type    BusEventType
	BusID   string
	Payload Frame
	Code    int
	Reason  string
	Err     error
}

// BusConn is a single-attempt upstream event-bus connection. It never retries
// internally; failures surface on Events and retry is the bridge's call.
// Owned by the bridge; the bridge must Close() it.
type BusConn interface {
	// Events streams connecting, connected{busId}, messages and the final
	// closed event. The channel is closed after the closed event.
	Events() <-chan BusEvent
	// Send writes one frame upstream (subscribe envelopes).
	Send(Frame) error
	BusID() string
	Close()
}

// BusDialer opens bus connections for a credential.
type BusDialer interface {
	Dial(ctx context.Context, cred domain.Credential) (BusConn, error)
}

// PushFrame is the server-push wire format relayed to the browser, one frame
// per SSE data event.
type PushFrame struct {
	Type    string          `json:"type"`
	BusID   string          `json:"busId,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details string          `json:"details,omitempty"`
	Code    int             `json:"code,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}
