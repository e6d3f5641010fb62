package brighter

import (
	"context"

	"github.com/google/uuid"
)

// inboxHandlerName is the synthesized middleware's reserved name. It is
// never resolved through the factory.
const inboxHandlerName = "brighter.inbox"

// Inbox records which request ids a handler has already seen, scoped by a
// context key, so redelivered messages are not processed twice.
type Inbox interface {
	Add(ctx context.Context, contextKey string, requestID uuid.UUID) error
	Exists(ctx context.Context, contextKey string, requestID uuid.UUID) (bool, error)
}

// InboxConfiguration asks the pipeline builder to synthesize deduplication
// middleware into every chain whose terminal has not opted out.
type InboxConfiguration struct {
	// Inbox is the backing store.
	Inbox Inbox
	// Step positions the middleware among the terminal's before-middleware.
	Step int
	// OnceOnly short-circuits the chain when the request was already seen.
	// When false the middleware records ids but never blocks.
	OnceOnly bool
}

// inboxHandler is the synthesized middleware. The context key is the
// terminal handler's name, so two handlers of the same event deduplicate
// independently.
type inboxHandler struct {
	cfg   *InboxConfiguration
	scope string
	next  RequestHandler
}

func newInboxHandler(cfg *InboxConfiguration, scope string) *inboxHandler {
	return &inboxHandler{cfg: cfg, scope: scope}
}

func (h *inboxHandler) SetSuccessor(next RequestHandler) { h.next = next }

func (h *inboxHandler) Handle(ctx context.Context, req Request) error {
	seen, err := h.cfg.Inbox.Exists(ctx, h.scope, req.ID())
	if err != nil {
		return err
	}
	if seen && h.cfg.OnceOnly {
		return nil
	}
	if !seen {
		if err := h.cfg.Inbox.Add(ctx, h.scope, req.ID()); err != nil {
			return err
		}
	}
	return h.next.Handle(ctx, req)
}
