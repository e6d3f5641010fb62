package brighter

import (
	"context"

	"github.com/google/uuid"
	"github.com/trickstertwo/xlog"
)

// SwitchState is the evaluated state of a feature switch.
type SwitchState int

const (
	// SwitchDefault defers to the middleware's own declaration.
	SwitchDefault SwitchState = iota
	SwitchOn
	SwitchOff
)

// FeatureSwitchRegistry evaluates named switches. A switch that is off makes
// the middleware declaring it a pass-through; it never changes handler-count
// validation.
type FeatureSwitchRegistry interface {
	StateOf(name string) SwitchState
}

// FeatureSwitches is a fixed map implementation of FeatureSwitchRegistry.
type FeatureSwitches map[string]SwitchState

func (f FeatureSwitches) StateOf(name string) SwitchState {
	if s, ok := f[name]; ok {
		return s
	}
	return SwitchDefault
}

// RequestContext is the per-invocation propagation bag. One is created per
// top-level façade operation and handed to every handler in the pipeline
// that asks for it (ContextAware). Mutation is permitted only within the
// owning dispatch: the bag is a plain map with no internal locking.
type RequestContext struct {
	// Policies gives middleware access to the named resilience policies.
	Policies *PolicyRegistry
	// FeatureSwitches is optional; nil means every switch is SwitchDefault.
	FeatureSwitches FeatureSwitchRegistry
	// CorrelationID identifies the top-level invocation.
	CorrelationID uuid.UUID

	bag map[string]any
}

// NewRequestContext builds a context with a fresh correlation id.
func NewRequestContext(policies *PolicyRegistry, switches FeatureSwitchRegistry) *RequestContext {
	return &RequestContext{
		Policies:        policies,
		FeatureSwitches: switches,
		CorrelationID:   uuid.New(),
		bag:             make(map[string]any),
	}
}

// Set stores a user value in the bag.
func (rc *RequestContext) Set(key string, v any) { rc.bag[key] = v }

// Get reads a user value from the bag.
func (rc *RequestContext) Get(key string) (any, bool) {
	v, ok := rc.bag[key]
	return v, ok
}

func (rc *RequestContext) switchState(name string) SwitchState {
	if rc.FeatureSwitches == nil {
		return SwitchDefault
	}
	return rc.FeatureSwitches.StateOf(name)
}

// ctxKey is the base for all context keys in brighter (prevents collisions).
type ctxKey string

const (
	requestCtxKey ctxKey = "brighter:request-context"
	loggerCtxKey  ctxKey = "brighter:logger"
)

// injectRequestContext attaches the dispatch's RequestContext for handlers
// that prefer pulling it from the context.Context.
func injectRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	if rc == nil {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey, rc)
}

// RequestContextFrom retrieves the RequestContext of the current dispatch.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	if v := ctx.Value(requestCtxKey); v != nil {
		if rc, ok := v.(*RequestContext); ok && rc != nil {
			return rc, true
		}
	}
	return nil, false
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext retrieves the processor's logger inside a handler.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}
