package brighter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penderi/Brighter"
	"github.com/penderi/Brighter/adapter/memory"
)

// tracingMiddleware records its name around the rest of the chain.
type tracingMiddleware struct {
	name  string
	trace *[]string
	next  brighter.RequestHandler
}

func (m *tracingMiddleware) SetSuccessor(next brighter.RequestHandler) { m.next = next }

func (m *tracingMiddleware) Handle(ctx context.Context, req brighter.Request) error {
	*m.trace = append(*m.trace, m.name+":in")
	err := m.next.Handle(ctx, req)
	*m.trace = append(*m.trace, m.name+":out")
	return err
}

// gateMiddleware short-circuits without calling its successor.
type gateMiddleware struct {
	trace *[]string
}

func (m *gateMiddleware) SetSuccessor(brighter.RequestHandler) {}

func (m *gateMiddleware) Handle(context.Context, brighter.Request) error {
	*m.trace = append(*m.trace, "gate")
	return nil
}

func pipelineFixture(trace *[]string) (*brighter.SubscriberRegistry, *brighter.PipelineRegistry, *countingFactory) {
	factory := newCountingFactory().
		Register("Terminal", func() brighter.RequestHandler {
			return brighter.HandlerFunc(func(context.Context, brighter.Request) error {
				*trace = append(*trace, "terminal")
				return nil
			})
		}).
		Register("Logging", func() brighter.RequestHandler { return &tracingMiddleware{name: "logging", trace: trace} }).
		Register("Auth", func() brighter.RequestHandler { return &tracingMiddleware{name: "auth", trace: trace} }).
		Register("Audit", func() brighter.RequestHandler { return &tracingMiddleware{name: "audit", trace: trace} }).
		Register("Gate", func() brighter.RequestHandler { return &gateMiddleware{trace: trace} })

	subs := brighter.NewSubscriberRegistry()
	brighter.RegisterSubscriber[*greetCommand](subs, "Terminal")

	return subs, brighter.NewPipelineRegistry(), factory
}

func TestPipeline_MiddlewareRunsInDeclaredOrder(t *testing.T) {
	var trace []string
	subs, pipelines, factory := pipelineFixture(&trace)
	pipelines.Declare("Terminal",
		brighter.MiddlewareSpec{Name: "Auth", Timing: brighter.TimingBefore, Step: 2},
		brighter.MiddlewareSpec{Name: "Logging", Timing: brighter.TimingBefore, Step: 1},
		brighter.MiddlewareSpec{Name: "Audit", Timing: brighter.TimingAfter, Step: 1},
	)

	p, err := brighter.NewCommandProcessorBuilder().
		WithSubscribers(subs, factory).
		WithPipelines(pipelines).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), &greetCommand{Command: brighter.NewCommand()}))

	// Before middleware ascending by step, terminal, then after middleware.
	assert.Equal(t, []string{
		"logging:in", "auth:in", "terminal", "audit:in", "audit:out", "auth:out", "logging:out",
	}, trace)

	created, released := factory.counts()
	assert.Equal(t, 4, created)
	assert.Equal(t, created, released)
}

func TestPipeline_MiddlewareMayShortCircuit(t *testing.T) {
	var trace []string
	subs, pipelines, factory := pipelineFixture(&trace)
	pipelines.Declare("Terminal",
		brighter.MiddlewareSpec{Name: "Gate", Timing: brighter.TimingBefore, Step: 1},
	)

	p, err := brighter.NewCommandProcessorBuilder().
		WithSubscribers(subs, factory).
		WithPipelines(pipelines).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), &greetCommand{Command: brighter.NewCommand()}))
	assert.Equal(t, []string{"gate"}, trace)
}

func TestPipeline_NestedMiddlewareDeclarations(t *testing.T) {
	var trace []string
	subs, pipelines, factory := pipelineFixture(&trace)
	// Auth wraps the terminal; Logging wraps Auth by declaration on Auth.
	pipelines.Declare("Terminal",
		brighter.MiddlewareSpec{Name: "Auth", Timing: brighter.TimingBefore, Step: 1},
	)
	pipelines.Declare("Auth",
		brighter.MiddlewareSpec{Name: "Logging", Timing: brighter.TimingBefore, Step: 1},
	)

	p, err := brighter.NewCommandProcessorBuilder().
		WithSubscribers(subs, factory).
		WithPipelines(pipelines).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), &greetCommand{Command: brighter.NewCommand()}))
	assert.Equal(t, []string{
		"logging:in", "auth:in", "terminal", "auth:out", "logging:out",
	}, trace)
}

func TestPipeline_CircularDeclarationIsConfigurationError(t *testing.T) {
	var trace []string
	subs, pipelines, factory := pipelineFixture(&trace)
	pipelines.Declare("Terminal", brighter.MiddlewareSpec{Name: "Auth", Timing: brighter.TimingBefore, Step: 1})
	pipelines.Declare("Auth", brighter.MiddlewareSpec{Name: "Logging", Timing: brighter.TimingBefore, Step: 1})
	pipelines.Declare("Logging", brighter.MiddlewareSpec{Name: "Auth", Timing: brighter.TimingBefore, Step: 1})

	p, err := brighter.NewCommandProcessorBuilder().
		WithSubscribers(subs, factory).
		WithPipelines(pipelines).
		Build()
	require.NoError(t, err)

	err = p.Send(context.Background(), &greetCommand{Command: brighter.NewCommand()})
	require.ErrorIs(t, err, brighter.ErrConfiguration)

	var circular *brighter.CircularDependencyError
	require.ErrorAs(t, err, &circular)

	// Nothing may leak even when the build fails.
	created, released := factory.counts()
	assert.Equal(t, created, released)
}

func TestPipeline_FeatureSwitchDisablesMiddleware(t *testing.T) {
	var trace []string
	subs, pipelines, factory := pipelineFixture(&trace)
	pipelines.Declare("Terminal",
		brighter.MiddlewareSpec{Name: "Auth", Timing: brighter.TimingBefore, Step: 1, FeatureSwitch: "auth"},
	)

	p, err := brighter.NewCommandProcessorBuilder().
		WithSubscribers(subs, factory).
		WithPipelines(pipelines).
		WithFeatureSwitches(brighter.FeatureSwitches{"auth": brighter.SwitchOff}).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), &greetCommand{Command: brighter.NewCommand()}))
	assert.Equal(t, []string{"terminal"}, trace)
}

func TestPipeline_InboxDeduplicatesByRequestID(t *testing.T) {
	var trace []string
	subs, pipelines, factory := pipelineFixture(&trace)

	p, err := brighter.NewCommandProcessorBuilder().
		WithSubscribers(subs, factory).
		WithPipelines(pipelines).
		WithInbox(&brighter.InboxConfiguration{Inbox: memory.NewInbox(), OnceOnly: true}).
		Build()
	require.NoError(t, err)

	cmd := &greetCommand{Command: brighter.NewCommand()}
	require.NoError(t, p.Send(context.Background(), cmd))
	require.NoError(t, p.Send(context.Background(), cmd))

	// Second delivery of the same request id is swallowed by the inbox.
	assert.Equal(t, []string{"terminal"}, trace)
}

func TestPipeline_InboxOptOut(t *testing.T) {
	var trace []string
	subs, pipelines, factory := pipelineFixture(&trace)
	pipelines.DisableInbox("Terminal")

	p, err := brighter.NewCommandProcessorBuilder().
		WithSubscribers(subs, factory).
		WithPipelines(pipelines).
		WithInbox(&brighter.InboxConfiguration{Inbox: memory.NewInbox(), OnceOnly: true}).
		Build()
	require.NoError(t, err)

	cmd := &greetCommand{Command: brighter.NewCommand()}
	require.NoError(t, p.Send(context.Background(), cmd))
	require.NoError(t, p.Send(context.Background(), cmd))
	assert.Equal(t, []string{"terminal", "terminal"}, trace)
}

// contextProbe asserts the RequestContext is injected into handlers that
// ask for it.
type contextProbe struct {
	rc   *brighter.RequestContext
	seen *bool
}

func (h *contextProbe) SetContext(rc *brighter.RequestContext) { h.rc = rc }

func (h *contextProbe) Handle(ctx context.Context, _ brighter.Request) error {
	*h.seen = h.rc != nil && h.rc.Policies != nil
	if fromCtx, ok := brighter.RequestContextFrom(ctx); ok {
		*h.seen = *h.seen && fromCtx == h.rc
	}
	return nil
}

func TestPipeline_RequestContextInjection(t *testing.T) {
	seen := false
	factory := newCountingFactory().Register("Probe", func() brighter.RequestHandler {
		return &contextProbe{seen: &seen}
	})
	subs := brighter.NewSubscriberRegistry()
	brighter.RegisterSubscriber[*greetCommand](subs, "Probe")

	p, err := brighter.NewCommandProcessorBuilder().
		WithSubscribers(subs, factory).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), &greetCommand{Command: brighter.NewCommand()}))
	assert.True(t, seen)
}
