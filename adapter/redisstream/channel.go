package redisstream

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/penderi/Brighter"
)

// ChannelFactory creates ephemeral reply channels backed by one Redis
// stream per channel. The stream's name is the subscription's channel name,
// which Call sets to the fresh channel id.
type ChannelFactory struct {
	client *redis.Client
	cfg    Config
}

var _ brighter.ChannelFactory = (*ChannelFactory)(nil)

// NewChannelFactory wraps an existing client.
func NewChannelFactory(client *redis.Client, cfg Config) *ChannelFactory {
	return &ChannelFactory{client: client, cfg: cfg.withDefaults()}
}

func (f *ChannelFactory) CreateChannel(sub *brighter.Subscription) (brighter.Channel, error) {
	return &Channel{
		client: f.client,
		cfg:    f.cfg,
		stream: sub.ChannelName,
		lastID: "0",
	}, nil
}

// Channel reads one Redis stream with XREAD BLOCK.
type Channel struct {
	client *redis.Client
	cfg    Config
	stream string
	lastID string
}

var _ brighter.Channel = (*Channel)(nil)

// Purge deletes the stream so the call starts from a clean slate, then
// touches it so the broker-side structure exists before the request is
// produced.
func (c *Channel) Purge(ctx context.Context) error {
	if err := c.client.Del(ctx, c.stream).Err(); err != nil {
		return err
	}
	c.lastID = "0"
	// XGROUP CREATE MKSTREAM materializes an empty stream.
	err := c.client.XGroupCreateMkStream(ctx, c.stream, "brighter-reply", "$").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

// Receive blocks for up to timeout; an empty read surfaces as an MTNone
// message, not an error.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (*brighter.Message, error) {
	res, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.stream, c.lastID},
		Count:   1,
		Block:   timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &brighter.Message{Header: brighter.MessageHeader{Type: brighter.MTNone}}, nil
		}
		return nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return &brighter.Message{Header: brighter.MessageHeader{Type: brighter.MTNone}}, nil
	}

	entry := res[0].Messages[0]
	c.lastID = entry.ID
	vals := make(map[string]string, len(entry.Values))
	for k, v := range entry.Values {
		if s, ok := v.(string); ok {
			vals[k] = s
		}
	}
	return fromValues(vals), nil
}

// Close destroys the stream and its broker resources.
func (c *Channel) Close(ctx context.Context) error {
	return c.client.Del(ctx, c.stream).Err()
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
