package redisstream

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/penderi/Brighter"
)

// Producer sends messages to Redis Streams with XADD, one stream per topic.
type Producer struct {
	client *redis.Client
	cfg    Config

	mu        sync.Mutex
	callbacks []brighter.DeliveryCallback
}

var (
	_ brighter.MessageProducer        = (*Producer)(nil)
	_ brighter.DelayedMessageProducer = (*Producer)(nil)
	_ brighter.CallbackProducer       = (*Producer)(nil)
)

// NewProducer wraps an existing client. The caller owns the client's
// lifetime unless the producer came from Use.
func NewProducer(client *redis.Client, cfg Config) *Producer {
	return &Producer{client: client, cfg: cfg.withDefaults()}
}

func (p *Producer) Send(ctx context.Context, msg *brighter.Message) error {
	args := &redis.XAddArgs{
		Stream: msg.Header.Topic,
		Values: toValues(msg),
	}
	if p.cfg.MaxLenApprox > 0 {
		args.MaxLen = p.cfg.MaxLenApprox
		args.Approx = true
	}
	err := p.client.XAdd(ctx, args).Err()

	p.mu.Lock()
	cbs := make([]brighter.DeliveryCallback, len(p.callbacks))
	copy(cbs, p.callbacks)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(err, msg.Header.ID)
	}
	return err
}

// SendWithDelay blocks until the delay elapses and then sends, client-side;
// the message's Delay header is left as it is. Redis Streams has no
// broker-side delay.
func (p *Producer) SendWithDelay(ctx context.Context, msg *brighter.Message, delay time.Duration) error {
	if delay <= 0 {
		return p.Send(ctx, msg)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return p.Send(ctx, msg)
	}
}

func (p *Producer) OnPublished(cb brighter.DeliveryCallback) {
	if cb == nil {
		return
	}
	p.mu.Lock()
	p.callbacks = append(p.callbacks, cb)
	p.mu.Unlock()
}

// Close is a no-op for caller-owned clients; Use-owned clients are closed
// by Components.Close.
func (p *Producer) Close(context.Context) error { return nil }
