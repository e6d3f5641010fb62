package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/penderi/Brighter"
)

// Inbox implements brighter.Inbox with a mutex-guarded set.
type Inbox struct {
	mu   sync.RWMutex
	seen map[inboxKey]struct{}
}

type inboxKey struct {
	scope string
	id    uuid.UUID
}

var _ brighter.Inbox = (*Inbox)(nil)

// NewInbox creates an empty in-memory inbox.
func NewInbox() *Inbox {
	return &Inbox{seen: make(map[inboxKey]struct{})}
}

func (i *Inbox) Add(ctx context.Context, contextKey string, requestID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	i.seen[inboxKey{scope: contextKey, id: requestID}] = struct{}{}
	i.mu.Unlock()
	return nil
}

func (i *Inbox) Exists(ctx context.Context, contextKey string, requestID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	i.mu.RLock()
	_, ok := i.seen[inboxKey{scope: contextKey, id: requestID}]
	i.mu.RUnlock()
	return ok, nil
}
