package brighter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// CommandProcessor is the central Facade. Send and Publish dispatch
// in-process through built pipelines; DepositPost, ClearOutbox and Post go
// through the external bus; Call round-trips over an ephemeral reply
// channel.
type CommandProcessor struct {
	subscribers *SubscriberRegistry
	pipelines   *PipelineRegistry
	factory     HandlerFactory
	mappers     *MapperRegistry
	policies    *PolicyRegistry
	features    FeatureSwitchRegistry
	inbox       *InboxConfiguration
	bus         *ExternalBusService
	channels    ChannelFactory
	replySubs   map[TypeKey]*Subscription
	builder     *PipelineBuilder
	logger      *xlog.Logger
	clock       xclock.Clock
	observers   []Observer
	closed      atomic.Bool
}

// CommandProcessorBuilder constructs CommandProcessor instances (Builder
// pattern). Any combination of in-process dispatch and external bus may be
// configured; operations missing their collaborators fail with
// ErrConfiguration at the call site.
type CommandProcessorBuilder struct {
	subscribers *SubscriberRegistry
	pipelines   *PipelineRegistry
	factory     HandlerFactory
	mappers     *MapperRegistry
	policies    *PolicyRegistry
	features    FeatureSwitchRegistry
	inbox       *InboxConfiguration
	bus         *ExternalBusService
	channels    ChannelFactory
	replySubs   map[TypeKey]*Subscription
	logger      *xlog.Logger
	clock       xclock.Clock
	observers   []Observer
}

// NewCommandProcessorBuilder returns a builder with sensible defaults.
func NewCommandProcessorBuilder() *CommandProcessorBuilder {
	return &CommandProcessorBuilder{replySubs: make(map[TypeKey]*Subscription)}
}

// WithSubscribers wires the handler registry and the factory that builds
// its handlers. Required for Send, Publish, and Call.
func (b *CommandProcessorBuilder) WithSubscribers(r *SubscriberRegistry, f HandlerFactory) *CommandProcessorBuilder {
	b.subscribers = r
	b.factory = f
	return b
}

// WithPipelines wires the middleware declaration table.
func (b *CommandProcessorBuilder) WithPipelines(r *PipelineRegistry) *CommandProcessorBuilder {
	b.pipelines = r
	return b
}

// WithMappers wires request/message codecs. Required for Post, DepositPost,
// and Call.
func (b *CommandProcessorBuilder) WithMappers(r *MapperRegistry) *CommandProcessorBuilder {
	b.mappers = r
	return b
}

// WithPolicies replaces the default policy registry.
func (b *CommandProcessorBuilder) WithPolicies(r *PolicyRegistry) *CommandProcessorBuilder {
	b.policies = r
	return b
}

// WithFeatureSwitches wires a feature switch registry consulted during
// pipeline builds.
func (b *CommandProcessorBuilder) WithFeatureSwitches(f FeatureSwitchRegistry) *CommandProcessorBuilder {
	b.features = f
	return b
}

// WithInbox asks the pipeline builder to synthesize deduplication
// middleware.
func (b *CommandProcessorBuilder) WithInbox(cfg *InboxConfiguration) *CommandProcessorBuilder {
	b.inbox = cfg
	return b
}

// WithExternalBus wires the outbox/producer coordinator. Required for Post,
// DepositPost, ClearOutbox, and Call.
func (b *CommandProcessorBuilder) WithExternalBus(s *ExternalBusService) *CommandProcessorBuilder {
	b.bus = s
	return b
}

// WithChannelFactory wires the response channel factory used by Call.
func (b *CommandProcessorBuilder) WithChannelFactory(f ChannelFactory) *CommandProcessorBuilder {
	b.channels = f
	return b
}

// WithReplySubscription registers the reply subscription for a Call request
// type. sub.RequestKey names the response type; ChannelName and RoutingKey
// are overwritten per Call.
func (b *CommandProcessorBuilder) WithReplySubscription(callKey TypeKey, sub *Subscription) *CommandProcessorBuilder {
	b.replySubs[callKey] = sub
	return b
}

// WithLogger injects a custom xlog logger.
func (b *CommandProcessorBuilder) WithLogger(l *xlog.Logger) *CommandProcessorBuilder {
	b.logger = l
	return b
}

// WithClock injects a custom xclock clock.
func (b *CommandProcessorBuilder) WithClock(c xclock.Clock) *CommandProcessorBuilder {
	b.clock = c
	return b
}

// WithObserver attaches observers for dispatch lifecycle events.
func (b *CommandProcessorBuilder) WithObserver(obs ...Observer) *CommandProcessorBuilder {
	for _, o := range obs {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
	return b
}

// Build validates the configuration and returns the processor. When an
// external bus is configured its process-wide handle is published
// (first configuration wins).
func (b *CommandProcessorBuilder) Build() (*CommandProcessor, error) {
	if b.subscribers == nil && b.bus == nil {
		return nil, configurationError("a command processor needs a subscriber registry, an external bus, or both")
	}
	if (b.subscribers == nil) != (b.factory == nil) {
		return nil, configurationError("subscriber registry and handler factory must be configured together")
	}

	lg := b.logger
	if lg == nil {
		lg = xlog.Default()
	}
	clk := b.clock
	if clk == nil {
		clk = xclock.Default()
	}
	pol := b.policies
	if pol == nil {
		if b.bus != nil {
			pol = b.bus.policies
		} else {
			pol = NewPolicyRegistry()
		}
	}
	if b.bus != nil {
		InitExternalBus(b.bus)
	}

	p := &CommandProcessor{
		subscribers: b.subscribers,
		pipelines:   b.pipelines,
		factory:     b.factory,
		mappers:     b.mappers,
		policies:    pol,
		features:    b.features,
		inbox:       b.inbox,
		bus:         b.bus,
		channels:    b.channels,
		replySubs:   b.replySubs,
		logger:      lg,
		clock:       clk,
		observers:   b.observers,
	}
	p.builder = NewPipelineBuilder(b.subscribers, b.pipelines, b.factory, b.inbox, lg)
	return p, nil
}

// Send dispatches a command to its single registered handler. Zero or
// multiple handlers violate the command contract; handler errors propagate
// unchanged. Cancellation before dispatch means no handler runs.
func (p *CommandProcessor) Send(ctx context.Context, req Request) error {
	if p.closed.Load() {
		return ErrProcessorClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := KeyOf(req)
	rc := NewRequestContext(p.policies, p.features)
	pipeline, err := p.builder.Build(rc, key)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	entries := pipeline.Entries()
	switch len(entries) {
	case 1:
	case 0:
		return contractError("no handler registered for command %s", key)
	default:
		return contractError("%d handlers registered for command %s, want exactly one", len(entries), key)
	}

	start := p.clock.Now()
	err = entries[0].Handle(p.dispatchContext(ctx, rc), req)
	p.notify(Event{Type: SendDone, Key: key, MessageID: req.ID(), Duration: p.clock.Since(start), Err: err})
	return err
}

// Publish dispatches an event to every registered handler sequentially in
// registration order. Failures do not short-circuit; if any handler failed
// the collected failures surface as a *PublishError. Zero handlers is a
// successful no-op.
func (p *CommandProcessor) Publish(ctx context.Context, evt Request) error {
	if p.closed.Load() {
		return ErrProcessorClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := KeyOf(evt)
	rc := NewRequestContext(p.policies, p.features)
	pipeline, err := p.builder.Build(rc, key)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	hctx := p.dispatchContext(ctx, rc)
	start := p.clock.Now()
	var failures []error
	for _, entry := range pipeline.Entries() {
		if err := ctx.Err(); err != nil {
			p.notify(Event{Type: PublishDone, Key: key, MessageID: evt.ID(), Err: err})
			return err
		}
		if err := entry.Handle(hctx, evt); err != nil {
			failures = append(failures, err)
		}
	}

	err = nil
	if len(failures) > 0 {
		err = &PublishError{Errs: failures}
	}
	p.notify(Event{Type: PublishDone, Key: key, MessageID: evt.ID(), Duration: p.clock.Since(start), Err: err})
	return err
}

// DepositPost maps the request to a message and writes it durably to the
// outbox, returning the message id for a later ClearOutbox. When the bus
// has a transaction provider the write joins the caller's transaction.
func (p *CommandProcessor) DepositPost(ctx context.Context, req Request) (uuid.UUID, error) {
	if p.closed.Load() {
		return uuid.Nil, ErrProcessorClosed
	}
	if p.bus == nil {
		return uuid.Nil, configurationError("no external bus configured")
	}
	if p.mappers == nil {
		return uuid.Nil, configurationError("no mapper registry configured")
	}
	mapper, err := p.mappers.Get(KeyOf(req))
	if err != nil {
		return uuid.Nil, err
	}
	msg, err := mapper.MapToMessage(req)
	if err != nil {
		return uuid.Nil, err
	}
	if err := p.bus.AddToOutbox(ctx, msg); err != nil {
		return uuid.Nil, err
	}
	p.notify(Event{Type: DepositDone, Key: KeyOf(req), MessageID: msg.Header.ID})
	return msg.Header.ID, nil
}

// ClearOutbox produces previously deposited messages to the broker under
// the retry-inside-circuit-breaker envelope.
func (p *CommandProcessor) ClearOutbox(ctx context.Context, ids ...uuid.UUID) error {
	if p.closed.Load() {
		return ErrProcessorClosed
	}
	if p.bus == nil {
		return configurationError("no external bus configured")
	}
	start := p.clock.Now()
	err := p.bus.ClearOutbox(ctx, ids...)
	for _, id := range ids {
		p.notify(Event{Type: ClearDone, MessageID: id, Duration: p.clock.Since(start), Err: err})
	}
	return err
}

// ClearOutstanding re-dispatches aged undispatched outbox entries.
func (p *CommandProcessor) ClearOutstanding(ctx context.Context, olderThan time.Duration, batchSize int) error {
	if p.closed.Load() {
		return ErrProcessorClosed
	}
	if p.bus == nil {
		return configurationError("no external bus configured")
	}
	return p.bus.ClearOutstanding(ctx, olderThan, batchSize)
}

// Post is DepositPost followed immediately by ClearOutbox. No caller
// transaction participates.
func (p *CommandProcessor) Post(ctx context.Context, req Request) error {
	id, err := p.DepositPost(ctx, req)
	if err != nil {
		return err
	}
	return p.ClearOutbox(ctx, id)
}

// Close stops the processor and shuts the external bus down.
func (p *CommandProcessor) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	if p.bus == nil {
		return nil
	}
	return p.bus.Close(ctx)
}

func (p *CommandProcessor) dispatchContext(ctx context.Context, rc *RequestContext) context.Context {
	ctx = injectRequestContext(ctx, rc)
	ctx = injectLogger(ctx, p.logger)
	return ctx
}

func (p *CommandProcessor) notify(e Event) {
	for _, o := range p.observers {
		o.OnEvent(e)
	}
}
