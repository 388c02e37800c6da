package broadcast

import (
	"context"
	"encoding/json"
	"errors"
)

// MessageType identifies a broadcast message.
type MessageType string

const (
	// TypeTokenRefreshed announces that the shared bundle was replaced.
	TypeTokenRefreshed MessageType = "token-refreshed"
	// TypeLogout announces that the shared session was ended and revoked.
	TypeLogout MessageType = "logout"
)

var (
	// ErrClosed is returned when publishing on a closed channel.
	ErrClosed = errors.New("broadcast channel closed")
	// ErrUnknownType is returned for message types outside the protocol.
	ErrUnknownType = errors.New("unknown broadcast message type")
)

// Message is the only payload carried by a channel.
type Message struct {
	Type MessageType `json:"type"`
}

// Valid reports whether m belongs to the protocol.
func (m Message) Valid() bool {
	return m.Type == TypeTokenRefreshed || m.Type == TypeLogout
}

// Channel is one endpoint of a named broadcast channel.
type Channel interface {
	// Publish sends m to every other endpoint of the channel.
	Publish(ctx context.Context, m Message) error
	// Messages delivers messages published by other endpoints. It is closed by Close.
	Messages() <-chan Message
	// Close detaches the endpoint. It is safe to call more than once.
	Close() error
}

// Available reports whether ch can carry messages. A nil channel means the
// environment lacks a transport and coordination is single-tab only.
func Available(ch Channel) bool {
	if ch == nil {
		return false
	}
	if probe, ok := ch.(interface{ Available() bool }); ok {
		return probe.Available()
	}
	return true
}

// envelope is the wire form used by the out-of-process transports. Origin lets an
// endpoint drop its own publications.
type envelope struct {
	Origin string      `json:"origin"`
	Type   MessageType `json:"type"`
}

func encodeEnvelope(origin string, m Message) ([]byte, error) {
	if !m.Valid() {
		return nil, ErrUnknownType
	}
	return json.Marshal(envelope{Origin: origin, Type: m.Type})
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	if !(Message{Type: env.Type}).Valid() {
		return envelope{}, ErrUnknownType
	}
	return env, nil
}
