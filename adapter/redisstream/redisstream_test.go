package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penderi/Brighter"
)

// redisClient returns a connected client for testing, skipping when no
// local Redis is available.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func testConfig() Config {
	cfg := Defaults()
	cfg.OutboxKeyPrefix = "brighter:test:outbox:"
	return cfg
}

func cleanupOutbox(t *testing.T, client *redis.Client, cfg Config, ids ...uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_ = client.Del(ctx, cfg.pendingKey()).Err()
	for _, id := range ids {
		_ = client.Del(ctx, cfg.entryKey(id.String())).Err()
	}
}

func sampleMessage(topic string) *brighter.Message {
	msg := brighter.NewMessage(uuid.New(), topic, brighter.MTEvent, []byte(`{"n":1}`))
	msg.Header.Bag = map[string]string{"tenant": "t1"}
	return msg
}

func TestOutbox_RoundTrip(t *testing.T) {
	client := redisClient(t)
	defer client.Close()
	cfg := testConfig()
	ob := NewOutbox(client, cfg, nil)
	ctx := context.Background()

	msg := sampleMessage("orders")
	defer cleanupOutbox(t, client, cfg, msg.Header.ID)

	require.NoError(t, ob.Add(ctx, msg, time.Second, nil))

	got, err := ob.Get(ctx, msg.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Header.ID, got.Header.ID)
	assert.Equal(t, msg.Header.Topic, got.Header.Topic)
	assert.Equal(t, msg.Header.Type, got.Header.Type)
	assert.Equal(t, msg.Body, got.Body)
	assert.Equal(t, "t1", got.Header.Bag["tenant"])

	done, err := ob.IsDispatched(ctx, msg.Header.ID)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, ob.MarkDispatched(ctx, msg.Header.ID, time.Now()))
	done, err = ob.IsDispatched(ctx, msg.Header.ID)
	require.NoError(t, err)
	assert.True(t, done)

	_, err = ob.Get(ctx, uuid.New())
	require.ErrorIs(t, err, brighter.ErrNotFound)
}

func TestOutbox_OutstandingSweep(t *testing.T) {
	client := redisClient(t)
	defer client.Close()
	cfg := testConfig()
	ob := NewOutbox(client, cfg, nil)
	ctx := context.Background()

	msg := sampleMessage("orders")
	defer cleanupOutbox(t, client, cfg, msg.Header.ID)

	require.NoError(t, ob.Add(ctx, msg, time.Second, nil))
	time.Sleep(10 * time.Millisecond)

	out, err := ob.OutstandingMessages(ctx, 5*time.Millisecond, 10)
	require.NoError(t, err)
	found := false
	for _, m := range out {
		if m.Header.ID == msg.Header.ID {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, ob.MarkDispatched(ctx, msg.Header.ID, time.Now()))
	out, err = ob.OutstandingMessages(ctx, 0, 0)
	require.NoError(t, err)
	for _, m := range out {
		assert.NotEqual(t, msg.Header.ID, m.Header.ID)
	}
}

func TestProducerAndChannel_ReplyRoundTrip(t *testing.T) {
	client := redisClient(t)
	defer client.Close()
	cfg := testConfig()

	producer := NewProducer(client, cfg)
	channels := NewChannelFactory(client, cfg)
	ctx := context.Background()

	channelID := uuid.New().String()
	ch, err := channels.CreateChannel(&brighter.Subscription{
		ChannelName: channelID,
		RoutingKey:  channelID,
	})
	require.NoError(t, err)
	defer func() { _ = ch.Close(ctx) }()

	require.NoError(t, ch.Purge(ctx))

	msg := sampleMessage(channelID)
	require.NoError(t, producer.Send(ctx, msg))

	got, err := ch.Receive(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, msg.Header.ID, got.Header.ID)
	assert.Equal(t, brighter.MTEvent, got.Header.Type)
	assert.Equal(t, msg.Body, got.Body)
}

func TestChannel_ReceiveTimeoutIsNoneMessage(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	channels := NewChannelFactory(client, testConfig())
	channelID := uuid.New().String()
	ch, err := channels.CreateChannel(&brighter.Subscription{
		ChannelName: channelID,
		RoutingKey:  channelID,
	})
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	require.NoError(t, ch.Purge(context.Background()))

	got, err := ch.Receive(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, brighter.MTNone, got.Header.Type)
}
