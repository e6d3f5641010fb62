package brighter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ExternalBusService coordinates the outbox, the producer, and the
// resilience policies for every broker-facing operation. One instance is
// shared per process; steady-state calls take no lock because the outbox
// and producer are required to be thread-safe.
type ExternalBusService struct {
	outbox        Outbox
	producer      MessageProducer
	policies      *PolicyRegistry
	outboxTimeout time.Duration
	txProvider    TransactionProvider
	onDelivery    DeliveryCallback
	logger        *xlog.Logger
	clock         xclock.Clock
}

// BusOption configures an ExternalBusService.
type BusOption func(*ExternalBusService)

// WithOutboxTimeout sets the timeout passed to each outbox write; whether
// it is enforced is up to the Outbox implementation.
func WithOutboxTimeout(d time.Duration) BusOption {
	return func(s *ExternalBusService) {
		if d > 0 {
			s.outboxTimeout = d
		}
	}
}

// WithTransactionProvider ties outbox writes to the caller's transaction.
func WithTransactionProvider(p TransactionProvider) BusOption {
	return func(s *ExternalBusService) { s.txProvider = p }
}

// WithDeliveryCallback registers a callback fired once per message cleared
// from the outbox, after the retry-inside-circuit-breaker envelope, with
// the final error (nil on success).
func WithDeliveryCallback(cb DeliveryCallback) BusOption {
	return func(s *ExternalBusService) { s.onDelivery = cb }
}

// WithBusLogger injects a custom xlog logger.
func WithBusLogger(l *xlog.Logger) BusOption {
	return func(s *ExternalBusService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBusClock injects a custom xclock clock.
func WithBusClock(c xclock.Clock) BusOption {
	return func(s *ExternalBusService) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithBusPolicies replaces the default policy registry.
func WithBusPolicies(r *PolicyRegistry) BusOption {
	return func(s *ExternalBusService) {
		if r != nil {
			s.policies = r
		}
	}
}

// NewExternalBusService wires a bus over an outbox and a producer. Either
// may be nil; operations needing the missing collaborator fail with
// ErrConfiguration.
func NewExternalBusService(outbox Outbox, producer MessageProducer, opts ...BusOption) *ExternalBusService {
	s := &ExternalBusService{
		outbox:        outbox,
		producer:      producer,
		policies:      NewPolicyRegistry(),
		outboxTimeout: 2 * time.Second,
		logger:        xlog.Default(),
		clock:         xclock.Default(),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// AddToOutbox persists a mapped message keyed by its id. When a
// transaction provider is configured and yields a connection, the write
// joins the caller's transaction and becomes visible only when the caller
// commits.
func (s *ExternalBusService) AddToOutbox(ctx context.Context, msg *Message) error {
	if s.outbox == nil {
		return configurationError("no outbox configured")
	}
	var conn any
	if s.txProvider != nil {
		conn = s.txProvider.Connection(ctx)
	}
	return s.outbox.Add(ctx, msg, s.outboxTimeout, conn)
}

// ClearOutbox produces each identified message under the
// retry-inside-circuit-breaker envelope and marks it dispatched on
// success. An unknown id halts that id and continues with the rest; the
// collected failures are returned joined.
func (s *ExternalBusService) ClearOutbox(ctx context.Context, ids ...uuid.UUID) error {
	if s.outbox == nil {
		return configurationError("no outbox configured")
	}
	if s.producer == nil {
		return configurationError("no message producer configured")
	}

	tracker, _ := s.outbox.(DispatchTracker)

	var errs []error
	for _, id := range ids {
		msg, err := s.outbox.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				errs = append(errs, notFoundError(id))
				continue
			}
			errs = append(errs, err)
			continue
		}

		if tracker != nil {
			done, terr := tracker.IsDispatched(ctx, id)
			if terr != nil {
				errs = append(errs, terr)
				continue
			}
			if done {
				continue
			}
		}

		err = s.executeWithBreaker(ctx, func(ctx context.Context) error {
			return s.producer.Send(ctx, msg)
		})
		if s.onDelivery != nil {
			s.onDelivery(err, id)
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("brighter: outbox clear failed")
			errs = append(errs, err)
			continue
		}

		if err := s.outbox.MarkDispatched(ctx, id, s.clock.Now()); err != nil {
			// The send stands; redelivery is covered by at-least-once.
			s.logger.Warn().Err(err).Msg("brighter: mark dispatched failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearOutstanding re-dispatches undispatched entries older than the given
// age, up to batchSize.
func (s *ExternalBusService) ClearOutstanding(ctx context.Context, olderThan time.Duration, batchSize int) error {
	if s.outbox == nil {
		return configurationError("no outbox configured")
	}
	msgs, err := s.outbox.OutstandingMessages(ctx, olderThan, batchSize)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.Header.ID
	}
	return s.ClearOutbox(ctx, ids...)
}

// SendViaExternalBus sends a message without outbox bookkeeping, wrapped in
// retry only. Call uses this path.
func (s *ExternalBusService) SendViaExternalBus(ctx context.Context, msg *Message) error {
	if s.producer == nil {
		return configurationError("no message producer configured")
	}
	return s.Retry(ctx, func(ctx context.Context) error {
		return s.producer.Send(ctx, msg)
	})
}

// Retry runs an action under the registered retry policy. Used for
// reply-queue setup and receive during Call.
func (s *ExternalBusService) Retry(ctx context.Context, action func(ctx context.Context) error) error {
	p, err := s.policies.Get(PolicyRetry)
	if err != nil {
		return err
	}
	return p.Execute(ctx, action)
}

// executeWithBreaker nests retry inside the circuit breaker, the envelope
// the outbox clear path runs under.
func (s *ExternalBusService) executeWithBreaker(ctx context.Context, action func(ctx context.Context) error) error {
	cb, err := s.policies.Get(PolicyCircuitBreaker)
	if err != nil {
		return err
	}
	rt, err := s.policies.Get(PolicyRetry)
	if err != nil {
		return err
	}
	return cb.Execute(ctx, func(ctx context.Context) error {
		return rt.Execute(ctx, action)
	})
}

// HasOutbox reports whether deposit/clear operations are available.
func (s *ExternalBusService) HasOutbox() bool { return s.outbox != nil }

// HasProducer reports whether broker sends are available.
func (s *ExternalBusService) HasProducer() bool { return s.producer != nil }

// Close shuts the producer down.
func (s *ExternalBusService) Close(ctx context.Context) error {
	if s.producer == nil {
		return nil
	}
	return s.producer.Close(ctx)
}

// Process-wide external bus handle. The first configuration wins;
// re-initialisation is a no-op. Reset exists for tests and disposes the
// producer before releasing the handle.
var (
	externalBus   atomic.Pointer[ExternalBusService]
	externalBusMu sync.Mutex
)

// InitExternalBus publishes the process-wide bus handle. Returns the
// installed bus, which is the existing one when already initialised.
func InitExternalBus(s *ExternalBusService) *ExternalBusService {
	if cur := externalBus.Load(); cur != nil {
		return cur
	}
	externalBusMu.Lock()
	defer externalBusMu.Unlock()
	if cur := externalBus.Load(); cur != nil {
		return cur
	}
	externalBus.Store(s)
	return s
}

// DefaultExternalBus returns the process-wide handle, or nil before
// InitExternalBus.
func DefaultExternalBus() *ExternalBusService {
	return externalBus.Load()
}

// ResetExternalBus tears the singleton down for tests, closing the
// producer first.
func ResetExternalBus(ctx context.Context) error {
	externalBusMu.Lock()
	defer externalBusMu.Unlock()
	s := externalBus.Load()
	if s == nil {
		return nil
	}
	err := s.Close(ctx)
	externalBus.Store(nil)
	return err
}
