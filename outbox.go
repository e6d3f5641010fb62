package brighter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outbox is the durable staging store behind at-least-once delivery.
// Entries are keyed and de-duplicated by message id and transition
// monotonically from undispatched to dispatched. Implementations must be
// safe for concurrent use.
type Outbox interface {
	// Add persists a message. When conn is non-nil it carries the
	// caller-owned transaction/connection obtained from a
	// TransactionProvider, and the write must ride that transaction.
	Add(ctx context.Context, msg *Message, timeout time.Duration, conn any) error

	// Get loads a message by id. A missing id fails with ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Message, error)

	// MarkDispatched stamps the entry after a successful produce.
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error

	// OutstandingMessages returns undispatched entries older than the given
	// age, up to batchSize (0 = no limit), oldest first.
	OutstandingMessages(ctx context.Context, olderThan time.Duration, batchSize int) ([]*Message, error)
}

// DispatchTracker is an optional Outbox capability. When implemented, the
// external bus skips producing entries already marked dispatched, so
// repeated clears of the same id become no-ops.
type DispatchTracker interface {
	IsDispatched(ctx context.Context, id uuid.UUID) (bool, error)
}

// TransactionProvider hands the external bus an opaque caller transaction
// or connection so an outbox write can join the caller's database
// transaction. Returning nil means no transaction is in flight.
type TransactionProvider interface {
	Connection(ctx context.Context) any
}
