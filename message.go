package brighter

import (
	"time"

	"github.com/google/uuid"
)

// MessageType drives how the remote side dispatches a message.
type MessageType string

const (
	MTCommand  MessageType = "COMMAND"
	MTEvent    MessageType = "EVENT"
	MTDocument MessageType = "DOCUMENT"
	// MTNone marks the empty message a channel returns when a receive times
	// out. It is never produced.
	MTNone MessageType = "NONE"
	// MTQuit asks a service-activator consumer to stop.
	MTQuit MessageType = "QUIT"
)

// MessageHeader carries the routing and correlation metadata of a Message.
type MessageHeader struct {
	// ID equals the mapped request's id.
	ID uuid.UUID
	// Topic is the broker destination. Opaque to the core.
	Topic string
	// Type drives remote dispatch (command, event, document).
	Type MessageType
	// Timestamp is the wall-clock time (time.Now) at which NewMessage built
	// the envelope; injected clocks are not consulted for it.
	Timestamp time.Time
	// CorrelationID ties a response back to its Call.
	CorrelationID uuid.UUID
	// ReplyTo names the channel a response should be produced to.
	ReplyTo string
	// Delay postpones delivery when the producer supports it.
	Delay time.Duration
	// Bag holds user headers (tracing, tenancy, etc).
	Bag map[string]string
}

// Message is the wire envelope persisted in the outbox and handed to the
// producer. Messages are never mutated once written.
type Message struct {
	Header MessageHeader
	// Body is the encoded request. Opaque to the core; a Codec or
	// MessageMapper gives it meaning.
	Body []byte
}

// NewMessage builds a message envelope for a mapped request.
func NewMessage(id uuid.UUID, topic string, mt MessageType, body []byte) *Message {
	return &Message{
		Header: MessageHeader{
			ID:        id,
			Topic:     topic,
			Type:      mt,
			Timestamp: time.Now(),
		},
		Body: body,
	}
}
