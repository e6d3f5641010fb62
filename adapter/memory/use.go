package memory

import (
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/penderi/Brighter"
)

// Components bundles a fully wired in-memory backend: outbox, loopback
// producer, channel factory, inbox, transaction provider, and the external
// bus coordinating them.
type Components struct {
	Outbox     *Outbox
	Producer   *Producer
	Channels   *ChannelFactory
	Inbox      *Inbox
	TxProvider *TransactionProvider
	Bus        *brighter.ExternalBusService
}

// Option configures the external bus when calling Use.
type Option func(*options)

type options struct {
	logger        *xlog.Logger
	clock         xclock.Clock
	policies      *brighter.PolicyRegistry
	outboxTimeout time.Duration
	onDelivery    brighter.DeliveryCallback
	transactional bool
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPolicies replaces the default policy registry.
func WithPolicies(r *brighter.PolicyRegistry) Option {
	return func(o *options) { o.policies = r }
}

// WithOutboxTimeout sets the timeout the bus passes to each outbox write.
// The in-memory outbox ignores it.
func WithOutboxTimeout(d time.Duration) Option {
	return func(o *options) { o.outboxTimeout = d }
}

// WithDeliveryCallback observes the outcome of each message sent during
// outbox clears, once per message after retries.
func WithDeliveryCallback(cb brighter.DeliveryCallback) Option {
	return func(o *options) { o.onDelivery = cb }
}

// WithTransactions enables a TransactionProvider so deposits can join
// caller-owned transactions.
func WithTransactions() Option {
	return func(o *options) { o.transactional = true }
}

// Use builds the in-memory backend. Mirrors the adapter Use pattern:
// explicit construction, everything wired, ready to hand to a
// CommandProcessorBuilder.
//
//	mem := memory.Use(memory.WithLogger(logger))
//	processor, err := brighter.NewCommandProcessorBuilder().
//	    WithSubscribers(subscribers, factory).
//	    WithMappers(mappers).
//	    WithExternalBus(mem.Bus).
//	    WithChannelFactory(mem.Channels).
//	    Build()
func Use(opts ...Option) *Components {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = xclock.Default()
	}
	if o.logger == nil {
		o.logger = xlog.Default()
	}

	channels := NewChannelFactory()
	producer := NewProducer(channels)
	outbox := NewOutbox(o.clock)

	busOpts := []brighter.BusOption{
		brighter.WithBusLogger(o.logger),
		brighter.WithBusClock(o.clock),
	}
	if o.policies != nil {
		busOpts = append(busOpts, brighter.WithBusPolicies(o.policies))
	}
	if o.outboxTimeout > 0 {
		busOpts = append(busOpts, brighter.WithOutboxTimeout(o.outboxTimeout))
	}
	if o.onDelivery != nil {
		busOpts = append(busOpts, brighter.WithDeliveryCallback(o.onDelivery))
	}

	c := &Components{
		Outbox:   outbox,
		Producer: producer,
		Channels: channels,
		Inbox:    NewInbox(),
	}
	if o.transactional {
		c.TxProvider = NewTransactionProvider(outbox)
		busOpts = append(busOpts, brighter.WithTransactionProvider(c.TxProvider))
	}
	c.Bus = brighter.NewExternalBusService(outbox, producer, busOpts...)
	return c
}
