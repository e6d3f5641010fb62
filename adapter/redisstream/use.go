package redisstream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/penderi/Brighter"
)

// Components bundles the Redis-backed bus pieces built by Use. Close them
// together when done; the shared client is owned here.
type Components struct {
	Client   *redis.Client
	Outbox   *Outbox
	Producer *Producer
	Channels *ChannelFactory
	Bus      *brighter.ExternalBusService
}

// Close shuts the bus down and releases the shared client.
func (c *Components) Close(ctx context.Context) error {
	if err := c.Bus.Close(ctx); err != nil {
		_ = c.Client.Close()
		return err
	}
	return c.Client.Close()
}

// Option configures the external bus when calling Use.
type Option func(*options)

type options struct {
	logger        *xlog.Logger
	clock         xclock.Clock
	policies      *brighter.PolicyRegistry
	outboxTimeout time.Duration
	onDelivery    brighter.DeliveryCallback
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

// WithOutboxTimeout bounds each outbox write.
func WithOutboxTimeout(d time.Duration) Option {
	return func(o *options) { o.outboxTimeout = d }
}

// WithDeliveryCallback observes the outcome of each message sent during
// outbox clears, once per message after retries.
func WithDeliveryCallback(cb brighter.DeliveryCallback) Option {
	return func(o *options) { o.onDelivery = cb }
}

// Use connects to Redis and wires outbox, producer, reply channels, and the
// external bus over one shared client. The connection is verified with a
// ping before anything is returned.
func Use(cfg Config, opts ...Option) (*Components, error) {
	cfg = cfg.withDefaults()
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

	client := newClient(cfg)
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	outbox := NewOutbox(client, cfg, o.clock)
	producer := NewProducer(client, cfg)
	channels := NewChannelFactory(client, cfg)

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

	return &Components{
		Client:   client,
		Outbox:   outbox,
		Producer: producer,
		Channels: channels,
		Bus:      brighter.NewExternalBusService(outbox, producer, busOpts...),
	}, nil
}
