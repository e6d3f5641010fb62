package brighter

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// Reserved policy names. The external bus nests PolicyRetry inside
// PolicyCircuitBreaker around broker sends; the *Async names are aliases
// kept for configurations that register distinct policies per surface.
const (
	PolicyCircuitBreaker      = "CircuitBreaker"
	PolicyRetry               = "RetryPolicy"
	PolicyCircuitBreakerAsync = "CircuitBreaker.Async"
	PolicyRetryAsync          = "RetryPolicy.Async"
)

// Policy is an opaque resilience executor applied around I/O. Policies
// compose by nesting Execute calls.
type Policy interface {
	Execute(ctx context.Context, action func(ctx context.Context) error) error
}

// PolicyFunc is a function adapter for Policy.
type PolicyFunc func(ctx context.Context, action func(ctx context.Context) error) error

func (f PolicyFunc) Execute(ctx context.Context, action func(ctx context.Context) error) error {
	return f(ctx, action)
}

// PolicyRegistry holds named policies.
type PolicyRegistry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewPolicyRegistry returns a registry pre-populated with default retry and
// circuit-breaker policies under the reserved names.
func NewPolicyRegistry() *PolicyRegistry {
	r := &PolicyRegistry{policies: make(map[string]Policy)}
	retry := NewRetryPolicy(3, 50*time.Millisecond)
	breaker := NewCircuitBreakerPolicy(gobreaker.Settings{Name: PolicyCircuitBreaker})
	r.Register(PolicyRetry, retry)
	r.Register(PolicyRetryAsync, retry)
	r.Register(PolicyCircuitBreaker, breaker)
	r.Register(PolicyCircuitBreakerAsync, breaker)
	return r
}

// Register adds or replaces a named policy.
func (r *PolicyRegistry) Register(name string, p Policy) {
	r.mu.Lock()
	r.policies[name] = p
	r.mu.Unlock()
}

// Get returns the named policy.
func (r *PolicyRegistry) Get(name string) (Policy, error) {
	r.mu.RLock()
	p, ok := r.policies[name]
	r.mu.RUnlock()
	if !ok {
		return nil, configurationError("no policy registered under %q", name)
	}
	return p, nil
}

// retryPolicy retries an action with exponential backoff, honoring context
// cancellation between attempts.
type retryPolicy struct {
	maxRetries      uint64
	initialInterval time.Duration
}

// NewRetryPolicy returns a Policy performing up to maxRetries retries after
// the initial attempt, with exponential backoff starting at initialInterval.
func NewRetryPolicy(maxRetries uint64, initialInterval time.Duration) Policy {
	return &retryPolicy{maxRetries: maxRetries, initialInterval: initialInterval}
}

func (p *retryPolicy) Execute(ctx context.Context, action func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialInterval
	return backoff.Retry(
		func() error { return action(ctx) },
		backoff.WithContext(backoff.WithMaxRetries(bo, p.maxRetries), ctx),
	)
}

// circuitBreakerPolicy guards an action with a sony/gobreaker breaker. An
// open breaker fails fast with gobreaker.ErrOpenState.
type circuitBreakerPolicy struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// NewCircuitBreakerPolicy returns a Policy backed by a circuit breaker with
// the given settings.
func NewCircuitBreakerPolicy(st gobreaker.Settings) Policy {
	return &circuitBreakerPolicy{cb: gobreaker.NewCircuitBreaker[struct{}](st)}
}

func (p *circuitBreakerPolicy) Execute(ctx context.Context, action func(ctx context.Context) error) error {
	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, action(ctx)
	})
	return err
}
