package brighter

import (
	"context"
	"slices"
	"sync"

	"github.com/trickstertwo/xlog"
)

// Timing places a middleware relative to the terminal handler.
type Timing int

const (
	TimingBefore Timing = iota
	TimingAfter
)

// MiddlewareSpec declares one middleware position on a handler. The named
// handler must be resolvable through the factory and implement
// PipelineHandler.
type MiddlewareSpec struct {
	// Name of the middleware handler in the factory.
	Name string
	// Timing places the middleware before or after the declaring handler.
	Timing Timing
	// Step orders middleware sharing a timing, ascending.
	Step int
	// FeatureSwitch optionally names a switch; when it evaluates to
	// SwitchOff the middleware is left out of the chain.
	FeatureSwitch string
}

// PipelineRegistry is the declarative registration table replacing
// attribute-driven middleware discovery: each handler name carries an
// ordered middleware descriptor list, and middleware may declare middleware
// of its own.
type PipelineRegistry struct {
	mu      sync.RWMutex
	specs   map[string][]MiddlewareSpec
	noInbox map[string]bool
}

// NewPipelineRegistry returns an empty table.
func NewPipelineRegistry() *PipelineRegistry {
	return &PipelineRegistry{
		specs:   make(map[string][]MiddlewareSpec),
		noInbox: make(map[string]bool),
	}
}

// Declare appends middleware descriptors for a handler name.
func (r *PipelineRegistry) Declare(handlerName string, specs ...MiddlewareSpec) {
	if len(specs) == 0 {
		return
	}
	r.mu.Lock()
	r.specs[handlerName] = append(r.specs[handlerName], specs...)
	r.mu.Unlock()
}

// DisableInbox opts a handler out of the synthesized inbox middleware.
func (r *PipelineRegistry) DisableInbox(handlerName string) {
	r.mu.Lock()
	r.noInbox[handlerName] = true
	r.mu.Unlock()
}

func (r *PipelineRegistry) specsFor(handlerName string) []MiddlewareSpec {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[handlerName]
}

func (r *PipelineRegistry) inboxDisabled(handlerName string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.noInbox[handlerName]
}

// Pipeline is the built chain set for one request: one entry node per
// terminal handler. Release must run on every exit path.
type Pipeline struct {
	entries []RequestHandler
	created []RequestHandler
	factory HandlerFactory
}

// Entries returns the chain entry nodes, one per registered terminal.
func (p *Pipeline) Entries() []RequestHandler { return p.entries }

// Release returns every created handler to the factory exactly once, in
// reverse construction order.
func (p *Pipeline) Release() {
	for i := len(p.created) - 1; i >= 0; i-- {
		p.factory.Release(p.created[i])
	}
	p.created = nil
}

// PipelineBuilder assembles handler chains from the subscriber registry,
// the middleware table, and the factory. It exclusively owns the handlers
// it creates until Release.
type PipelineBuilder struct {
	subscribers *SubscriberRegistry
	pipelines   *PipelineRegistry
	factory     HandlerFactory
	inbox       *InboxConfiguration
	logger      *xlog.Logger
}

// NewPipelineBuilder wires a builder. pipelines and inbox may be nil.
func NewPipelineBuilder(subscribers *SubscriberRegistry, pipelines *PipelineRegistry, factory HandlerFactory, inbox *InboxConfiguration, logger *xlog.Logger) *PipelineBuilder {
	if logger == nil {
		logger = xlog.Default()
	}
	return &PipelineBuilder{
		subscribers: subscribers,
		pipelines:   pipelines,
		factory:     factory,
		inbox:       inbox,
		logger:      logger,
	}
}

// Build produces one linked chain per terminal handler registered for key.
// On error every handler created so far has already been released.
func (b *PipelineBuilder) Build(rc *RequestContext, key TypeKey) (*Pipeline, error) {
	if b.factory == nil {
		return nil, configurationError("no handler factory configured for %s", key)
	}
	if b.subscribers == nil {
		return nil, configurationError("no subscriber registry configured for %s", key)
	}

	p := &Pipeline{factory: b.factory}
	for _, terminal := range b.subscribers.HandlersFor(key) {
		entry, err := b.buildChain(rc, p, terminal)
		if err != nil {
			p.Release()
			return nil, err
		}
		p.entries = append(p.entries, entry)
	}
	return p, nil
}

// buildChain expands the terminal's middleware declarations into an ordered
// name list, instantiates each node, and links them front to back.
func (b *PipelineBuilder) buildChain(rc *RequestContext, p *Pipeline, terminal string) (RequestHandler, error) {
	names, err := b.expand(rc, terminal, nil)
	if err != nil {
		return nil, err
	}

	nodes := make([]RequestHandler, 0, len(names))
	for _, name := range names {
		var h RequestHandler
		if name == inboxHandlerName {
			h = newInboxHandler(b.inbox, terminal)
		} else {
			h, err = b.factory.Create(name)
			if err != nil {
				return nil, err
			}
			p.created = append(p.created, h)
		}
		if ca, ok := h.(ContextAware); ok {
			ca.SetContext(rc)
		}
		nodes = append(nodes, h)
	}

	// Link back to front. A trailing middleware gets the chain terminator
	// as successor; a plain terminal in the middle of the chain is wrapped
	// so the after-side still runs.
	if ph, ok := nodes[len(nodes)-1].(PipelineHandler); ok {
		ph.SetSuccessor(chainEnd)
	}
	var next RequestHandler
	for i := len(nodes) - 1; i >= 0; i-- {
		if next == nil {
			next = nodes[i]
			continue
		}
		ph, ok := nodes[i].(PipelineHandler)
		if !ok {
			next = &terminalNode{handler: nodes[i], next: next}
			continue
		}
		ph.SetSuccessor(next)
		next = ph
	}
	if next == nil {
		return nil, configurationError("empty pipeline for handler %q", terminal)
	}
	return next, nil
}

// expand returns the ordered handler names of one chain: recursively
// expanded before-middleware, the handler itself, then recursively expanded
// after-middleware. path carries the declaration trail for cycle detection.
func (b *PipelineBuilder) expand(rc *RequestContext, name string, path []string) ([]string, error) {
	if slices.Contains(path, name) {
		return nil, &CircularDependencyError{Path: append(append([]string{}, path...), name)}
	}
	path = append(path, name)

	specs := b.pipelines.specsFor(name)
	before := make([]MiddlewareSpec, 0, len(specs))
	after := make([]MiddlewareSpec, 0)
	for _, s := range specs {
		if s.FeatureSwitch != "" && rc.switchState(s.FeatureSwitch) == SwitchOff {
			b.logger.Debug().Msg("brighter: middleware disabled by feature switch")
			continue
		}
		if s.Timing == TimingBefore {
			before = append(before, s)
		} else {
			after = append(after, s)
		}
	}
	slices.SortStableFunc(before, func(a, c MiddlewareSpec) int { return a.Step - c.Step })
	slices.SortStableFunc(after, func(a, c MiddlewareSpec) int { return a.Step - c.Step })

	// Synthesize the inbox middleware at its declared step unless the
	// handler opted out. Only terminals (depth 1) get one.
	if len(path) == 1 && b.inbox != nil && !b.pipelines.inboxDisabled(name) {
		idx, _ := slices.BinarySearchFunc(before, MiddlewareSpec{Step: b.inbox.Step}, func(a, c MiddlewareSpec) int { return a.Step - c.Step })
		before = slices.Insert(before, idx, MiddlewareSpec{Name: inboxHandlerName, Timing: TimingBefore, Step: b.inbox.Step})
	}

	var names []string
	for _, s := range before {
		sub, err := b.expandSpec(rc, s, path)
		if err != nil {
			return nil, err
		}
		names = append(names, sub...)
	}
	names = append(names, name)
	for _, s := range after {
		sub, err := b.expandSpec(rc, s, path)
		if err != nil {
			return nil, err
		}
		names = append(names, sub...)
	}
	return names, nil
}

func (b *PipelineBuilder) expandSpec(rc *RequestContext, s MiddlewareSpec, path []string) ([]string, error) {
	if s.Name == inboxHandlerName {
		return []string{s.Name}, nil
	}
	return b.expand(rc, s.Name, path)
}

// chainEnd terminates a chain whose last node is middleware.
var chainEnd RequestHandler = HandlerFunc(func(context.Context, Request) error { return nil })

// terminalNode bridges a bare RequestHandler into the middle of a chain: it
// runs the handler, then the rest of the chain.
type terminalNode struct {
	handler RequestHandler
	next    RequestHandler
}

func (t *terminalNode) Handle(ctx context.Context, req Request) error {
	if err := t.handler.Handle(ctx, req); err != nil {
		return err
	}
	return t.next.Handle(ctx, req)
}
