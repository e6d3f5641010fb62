package brighter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageProducer is the broker-facing sender. Implementations must be safe
// for concurrent use; the external bus shares one producer for its
// lifetime.
type MessageProducer interface {
	Send(ctx context.Context, msg *Message) error
	Close(ctx context.Context) error
}

// DelayedMessageProducer is implemented by producers that can postpone
// delivery. The in-memory and Redis adapters postpone it client-side.
type DelayedMessageProducer interface {
	MessageProducer
	SendWithDelay(ctx context.Context, msg *Message, delay time.Duration) error
}

// DeliveryCallback reports the outcome of a produce: err is nil on success,
// id is the message id. The external bus invokes its callback once per
// message it clears from the outbox, with the result after retries;
// SendViaExternalBus does not invoke it.
type DeliveryCallback func(err error, id uuid.UUID)

// CallbackProducer is implemented by producers that publish delivery
// confirmations of their own (e.g. broker acks).
type CallbackProducer interface {
	OnPublished(cb DeliveryCallback)
}
