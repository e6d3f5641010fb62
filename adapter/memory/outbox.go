package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"

	"github.com/penderi/Brighter"
)

// Outbox implements brighter.Outbox with a mutex-guarded map (dev/testing).
// Entries are de-duplicated by message id; a second Add of the same id is a
// no-op.
type Outbox struct {
	clock xclock.Clock

	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
}

type entry struct {
	msg          *brighter.Message
	depositedAt  time.Time
	dispatchedAt *time.Time
}

var _ brighter.Outbox = (*Outbox)(nil)

// NewOutbox creates an empty in-memory outbox.
func NewOutbox(clock xclock.Clock) *Outbox {
	if clock == nil {
		clock = xclock.Default()
	}
	return &Outbox{clock: clock, entries: make(map[uuid.UUID]*entry)}
}

// Add stores the message. A conn of type *Tx defers the write until the
// caller commits.
func (o *Outbox) Add(ctx context.Context, msg *brighter.Message, _ time.Duration, conn any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx, ok := conn.(*Tx); ok && tx != nil {
		tx.enlist(msg)
		return nil
	}
	o.apply(msg)
	return nil
}

func (o *Outbox) apply(msg *brighter.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[msg.Header.ID]; ok {
		return
	}
	o.entries[msg.Header.ID] = &entry{msg: msg, depositedAt: o.clock.Now()}
}

func (o *Outbox) Get(ctx context.Context, id uuid.UUID) (*brighter.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.RLock()
	e, ok := o.entries[id]
	o.mu.RUnlock()
	if !ok {
		return nil, brighter.ErrNotFound
	}
	return e.msg, nil
}

func (o *Outbox) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return brighter.ErrNotFound
	}
	if e.dispatchedAt == nil {
		e.dispatchedAt = &at
	}
	return nil
}

func (o *Outbox) OutstandingMessages(ctx context.Context, olderThan time.Duration, batchSize int) ([]*brighter.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := o.clock.Now().Add(-olderThan)

	o.mu.RLock()
	pending := make([]*entry, 0, len(o.entries))
	for _, e := range o.entries {
		if e.dispatchedAt == nil && !e.depositedAt.After(cutoff) {
			pending = append(pending, e)
		}
	}
	o.mu.RUnlock()

	slices.SortFunc(pending, func(a, b *entry) int { return a.depositedAt.Compare(b.depositedAt) })
	if batchSize > 0 && len(pending) > batchSize {
		pending = pending[:batchSize]
	}
	out := make([]*brighter.Message, len(pending))
	for i, e := range pending {
		out[i] = e.msg
	}
	return out, nil
}

// IsDispatched reports whether the entry was already cleared.
func (o *Outbox) IsDispatched(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[id]
	if !ok {
		return false, brighter.ErrNotFound
	}
	return e.dispatchedAt != nil, nil
}

// DispatchedAt reports when the entry was cleared, for tests and sweeps.
func (o *Outbox) DispatchedAt(id uuid.UUID) (time.Time, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[id]
	if !ok || e.dispatchedAt == nil {
		return time.Time{}, false
	}
	return *e.dispatchedAt, true
}

// Len returns the number of stored entries.
func (o *Outbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries)
}
