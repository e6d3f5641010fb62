package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/penderi/Brighter"
)

const defaultBufferSize = 16

// ChannelFactory creates in-memory response channels keyed by routing key.
// A Producer attached to the same factory delivers into them, closing the
// loop for local Call round-trips.
type ChannelFactory struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

var _ brighter.ChannelFactory = (*ChannelFactory)(nil)

// NewChannelFactory creates an empty factory.
func NewChannelFactory() *ChannelFactory {
	return &ChannelFactory{channels: make(map[string]*Channel)}
}

func (f *ChannelFactory) CreateChannel(sub *brighter.Subscription) (brighter.Channel, error) {
	buf := sub.BufferSize
	if buf < 1 {
		buf = defaultBufferSize
	}
	ch := &Channel{
		factory:    f,
		routingKey: sub.RoutingKey,
		queue:      make(chan *brighter.Message, buf),
	}
	f.mu.Lock()
	f.channels[sub.RoutingKey] = ch
	f.mu.Unlock()
	return ch, nil
}

// deliver routes a produced message to the channel bound to the topic.
// Messages for unknown topics are dropped, matching broker semantics for
// queues that no longer exist.
func (f *ChannelFactory) deliver(topic string, msg *brighter.Message) {
	f.mu.RLock()
	ch, ok := f.channels[topic]
	f.mu.RUnlock()
	if !ok || ch.closed.Load() {
		return
	}
	select {
	case ch.queue <- msg:
	default:
	}
}

func (f *ChannelFactory) remove(routingKey string, ch *Channel) {
	f.mu.Lock()
	if f.channels[routingKey] == ch {
		delete(f.channels, routingKey)
	}
	f.mu.Unlock()
}

// Channel is one ephemeral in-memory subscriber.
type Channel struct {
	factory    *ChannelFactory
	routingKey string
	queue      chan *brighter.Message
	closed     atomic.Bool
}

var _ brighter.Channel = (*Channel)(nil)

// Purge drains anything already queued.
func (c *Channel) Purge(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.queue:
		default:
			return nil
		}
	}
}

// Receive blocks until a message arrives or the timeout elapses. Timeouts
// surface as a message with header type MTNone, not as an error.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (*brighter.Message, error) {
	if c.closed.Load() {
		return nil, brighter.ErrChannelClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-c.queue:
		return msg, nil
	case <-timer.C:
		return &brighter.Message{Header: brighter.MessageHeader{Type: brighter.MTNone}}, nil
	}
}

// Close unbinds the channel; later deliveries to its routing key are
// dropped.
func (c *Channel) Close(context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	c.factory.remove(c.routingKey, c)
	return nil
}
