package brighter

import (
	"context"
	"fmt"
)

// RequestHandler processes a single request. Terminal handlers implement
// only this; middleware additionally implements PipelineHandler so the
// builder can link it to its successor.
//
//	type PlaceOrderHandler struct {
//	    db *sql.DB
//	}
//
//	func (h *PlaceOrderHandler) Handle(ctx context.Context, req brighter.Request) error {
//	    cmd := req.(*PlaceOrder)
//	    _, err := h.db.ExecContext(ctx, "INSERT INTO orders ...", cmd.OrderID)
//	    return err
//	}
type RequestHandler interface {
	Handle(ctx context.Context, req Request) error
}

// HandlerFunc is a function adapter for RequestHandler.
type HandlerFunc func(ctx context.Context, req Request) error

// Handle implements the RequestHandler interface.
func (f HandlerFunc) Handle(ctx context.Context, req Request) error { return f(ctx, req) }

// Typed adapts a handler over a concrete request type to RequestHandler.
// Dispatching a request of any other type fails rather than silently
// no-oping.
func Typed[T Request](fn func(ctx context.Context, req T) error) RequestHandler {
	return HandlerFunc(func(ctx context.Context, req Request) error {
		t, ok := req.(T)
		if !ok {
			return fmt.Errorf("handler for %s received %s", KeyFor[T](), KeyOf(req))
		}
		return fn(ctx, t)
	})
}

// PipelineHandler is a middleware link in a handler chain. The builder sets
// the successor; the middleware decides whether to invoke it, so it may
// short-circuit the rest of the chain.
type PipelineHandler interface {
	RequestHandler
	SetSuccessor(next RequestHandler)
}

// ContextAware handlers receive the RequestContext of the dispatch that
// created them before the chain runs.
type ContextAware interface {
	SetContext(rc *RequestContext)
}

// HandlerFactory constructs and releases handler instances by name. The
// pipeline builder releases every instance it created exactly once, in
// reverse construction order, on every exit path. Handlers are assumed not
// thread-safe; factories hand out per-invocation instances.
type HandlerFactory interface {
	Create(name string) (RequestHandler, error)
	Release(h RequestHandler)
}

// SimpleHandlerFactory builds handlers from registered constructor
// functions. Release is a no-op; handlers needing teardown should use a
// custom factory.
type SimpleHandlerFactory struct {
	ctors map[string]func() RequestHandler
}

// NewSimpleHandlerFactory returns an empty factory.
func NewSimpleHandlerFactory() *SimpleHandlerFactory {
	return &SimpleHandlerFactory{ctors: make(map[string]func() RequestHandler)}
}

// Register associates a handler name with its constructor. Last
// registration wins.
func (f *SimpleHandlerFactory) Register(name string, ctor func() RequestHandler) *SimpleHandlerFactory {
	f.ctors[name] = ctor
	return f
}

func (f *SimpleHandlerFactory) Create(name string) (RequestHandler, error) {
	ctor, ok := f.ctors[name]
	if !ok {
		return nil, configurationError("no handler registered under %q", name)
	}
	return ctor(), nil
}

func (f *SimpleHandlerFactory) Release(RequestHandler) {}
