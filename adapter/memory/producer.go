package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/penderi/Brighter"
)

// Producer implements brighter.MessageProducer in memory. Sent messages are
// recorded for inspection and, when a ChannelFactory is attached, routed to
// any open channel whose routing key matches the message topic, which is
// what lets Call round-trip locally.
type Producer struct {
	channels *ChannelFactory
	closed   atomic.Bool

	mu        sync.Mutex
	sent      []*brighter.Message
	callbacks []brighter.DeliveryCallback
}

var (
	_ brighter.MessageProducer        = (*Producer)(nil)
	_ brighter.DelayedMessageProducer = (*Producer)(nil)
	_ brighter.CallbackProducer       = (*Producer)(nil)
)

// NewProducer creates a producer. channels may be nil for record-only use.
func NewProducer(channels *ChannelFactory) *Producer {
	return &Producer{channels: channels}
}

func (p *Producer) Send(ctx context.Context, msg *brighter.Message) error {
	if p.closed.Load() {
		return errors.New("memory producer is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.sent = append(p.sent, msg)
	cbs := make([]brighter.DeliveryCallback, len(p.callbacks))
	copy(cbs, p.callbacks)
	p.mu.Unlock()

	if p.channels != nil {
		p.channels.deliver(msg.Header.Topic, msg)
	}
	for _, cb := range cbs {
		cb(nil, msg.Header.ID)
	}
	return nil
}

// SendWithDelay delivers after the delay on a background goroutine.
func (p *Producer) SendWithDelay(ctx context.Context, msg *brighter.Message, delay time.Duration) error {
	if delay <= 0 {
		return p.Send(ctx, msg)
	}
	timer := time.NewTimer(delay)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			_ = p.Send(context.WithoutCancel(ctx), msg)
		case <-ctx.Done():
		}
	}()
	return nil
}

func (p *Producer) OnPublished(cb brighter.DeliveryCallback) {
	if cb == nil {
		return
	}
	p.mu.Lock()
	p.callbacks = append(p.callbacks, cb)
	p.mu.Unlock()
}

func (p *Producer) Close(context.Context) error {
	p.closed.Store(true)
	return nil
}

// Sent returns a copy of everything produced so far.
func (p *Producer) Sent() []*brighter.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*brighter.Message, len(p.sent))
	copy(out, p.sent)
	return out
}

// SentTo counts produced messages with the given id.
func (p *Producer) SentTo(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.sent {
		if m.Header.ID == id {
			n++
		}
	}
	return n
}
