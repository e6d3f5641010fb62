package memory

import (
	"context"
	"sync"

	"github.com/penderi/Brighter"
)

// TransactionProvider hands the external bus the caller's in-flight Tx so
// outbox writes become visible only on commit. It models the
// BoxTransactionConnectionProvider contract for the in-memory store.
type TransactionProvider struct {
	outbox *Outbox

	mu      sync.Mutex
	current *Tx
}

var _ brighter.TransactionProvider = (*TransactionProvider)(nil)

// NewTransactionProvider wires a provider over the outbox it commits into.
func NewTransactionProvider(outbox *Outbox) *TransactionProvider {
	return &TransactionProvider{outbox: outbox}
}

// Begin opens a transaction and makes it current until Commit or Rollback.
func (p *TransactionProvider) Begin() *Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := &Tx{provider: p}
	p.current = tx
	return tx
}

// Connection returns the in-flight transaction, or nil when none is open.
func (p *TransactionProvider) Connection(context.Context) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current
}

func (p *TransactionProvider) finish(tx *Tx) {
	p.mu.Lock()
	if p.current == tx {
		p.current = nil
	}
	p.mu.Unlock()
}

// Tx buffers outbox writes until the caller commits.
type Tx struct {
	provider *TransactionProvider

	mu      sync.Mutex
	pending []*brighter.Message
	done    bool
}

func (t *Tx) enlist(msg *brighter.Message) {
	t.mu.Lock()
	if !t.done {
		t.pending = append(t.pending, msg)
	}
	t.mu.Unlock()
}

// Commit applies every buffered write to the outbox.
func (t *Tx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	for _, msg := range t.pending {
		t.provider.outbox.apply(msg)
	}
	t.pending = nil
	t.provider.finish(t)
	return nil
}

// Rollback discards buffered writes.
func (t *Tx) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.pending = nil
	t.provider.finish(t)
}
