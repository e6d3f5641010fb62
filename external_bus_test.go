package brighter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penderi/Brighter"
	"github.com/penderi/Brighter/adapter/memory"
)

// flakyProducer fails a configured number of sends before succeeding.
type flakyProducer struct {
	mu       sync.Mutex
	failures int
	attempts int
	sent     []*brighter.Message
}

func (p *flakyProducer) Send(_ context.Context, msg *brighter.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.failures {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *flakyProducer) Close(context.Context) error { return nil }

func TestExternalBus_ClearRetriesTransientProducerFailures(t *testing.T) {
	outbox := memory.NewOutbox(nil)
	producer := &flakyProducer{failures: 2}
	bus := brighter.NewExternalBusService(outbox, producer)

	msg := brighter.NewMessage(brighter.NewCommand().RequestID, "t", brighter.MTEvent, []byte(`{}`))
	require.NoError(t, outbox.Add(context.Background(), msg, 0, nil))

	require.NoError(t, bus.ClearOutbox(context.Background(), msg.Header.ID))
	assert.Equal(t, 3, producer.attempts)
	require.Len(t, producer.sent, 1)
	assert.Equal(t, msg.Header.ID, producer.sent[0].Header.ID)
}

func TestExternalBus_DeliveryCallbackFires(t *testing.T) {
	outbox := memory.NewOutbox(nil)
	producer := &flakyProducer{}

	var gotErr error
	fired := 0
	bus := brighter.NewExternalBusService(outbox, producer,
		brighter.WithDeliveryCallback(func(err error, _ uuid.UUID) {
			fired++
			gotErr = err
		}))

	msg := brighter.NewMessage(brighter.NewCommand().RequestID, "t", brighter.MTEvent, []byte(`{}`))
	require.NoError(t, outbox.Add(context.Background(), msg, 0, nil))
	require.NoError(t, bus.ClearOutbox(context.Background(), msg.Header.ID))

	assert.Equal(t, 1, fired)
	assert.NoError(t, gotErr)
}

func TestExternalBus_MissingCollaboratorsAreConfigurationErrors(t *testing.T) {
	noOutbox := brighter.NewExternalBusService(nil, &flakyProducer{})
	err := noOutbox.AddToOutbox(context.Background(), brighter.NewMessage(brighter.NewCommand().RequestID, "t", brighter.MTEvent, nil))
	require.ErrorIs(t, err, brighter.ErrConfiguration)

	noProducer := brighter.NewExternalBusService(memory.NewOutbox(nil), nil)
	err = noProducer.SendViaExternalBus(context.Background(), brighter.NewMessage(brighter.NewCommand().RequestID, "t", brighter.MTEvent, nil))
	require.ErrorIs(t, err, brighter.ErrConfiguration)
	err = noProducer.ClearOutbox(context.Background(), brighter.NewCommand().RequestID)
	require.ErrorIs(t, err, brighter.ErrConfiguration)
}

func TestExternalBus_SingletonFirstConfigurationWins(t *testing.T) {
	require.NoError(t, brighter.ResetExternalBus(context.Background()))
	t.Cleanup(func() { _ = brighter.ResetExternalBus(context.Background()) })

	first := brighter.NewExternalBusService(memory.NewOutbox(nil), &flakyProducer{})
	second := brighter.NewExternalBusService(memory.NewOutbox(nil), &flakyProducer{})

	assert.Same(t, first, brighter.InitExternalBus(first))
	// Re-initialisation is a no-op; the first configuration wins.
	assert.Same(t, first, brighter.InitExternalBus(second))
	assert.Same(t, first, brighter.DefaultExternalBus())
}

func TestExternalBus_ResetReleasesSingleton(t *testing.T) {
	require.NoError(t, brighter.ResetExternalBus(context.Background()))
	t.Cleanup(func() { _ = brighter.ResetExternalBus(context.Background()) })

	mem := memory.Use()
	brighter.InitExternalBus(mem.Bus)
	require.NoError(t, brighter.ResetExternalBus(context.Background()))

	assert.Nil(t, brighter.DefaultExternalBus())
	// The producer was disposed during reset.
	err := mem.Producer.Send(context.Background(), brighter.NewMessage(brighter.NewCommand().RequestID, "t", brighter.MTEvent, nil))
	require.Error(t, err)
}

func TestExternalBus_AddToOutboxWithOutboxTimeoutStores(t *testing.T) {
	outbox := memory.NewOutbox(nil)
	bus := brighter.NewExternalBusService(outbox, &flakyProducer{},
		brighter.WithOutboxTimeout(time.Second))

	msg := brighter.NewMessage(brighter.NewCommand().RequestID, "t", brighter.MTEvent, nil)
	require.NoError(t, bus.AddToOutbox(context.Background(), msg))

	stored, err := outbox.Get(context.Background(), msg.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Header.ID, stored.Header.ID)
}
