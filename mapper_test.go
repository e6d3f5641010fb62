package brighter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penderi/Brighter"
)

func TestJSONMapper_RoundTrip(t *testing.T) {
	mapper := brighter.NewJSONMapper("orders", brighter.MTEvent,
		func() *orderPlaced { return &orderPlaced{} }, nil)

	evt := &orderPlaced{Event: brighter.NewEvent(), OrderID: "o-42"}
	msg, err := mapper.MapToMessage(evt)
	require.NoError(t, err)

	assert.Equal(t, evt.ID(), msg.Header.ID)
	assert.Equal(t, "orders", msg.Header.Topic)
	assert.Equal(t, brighter.MTEvent, msg.Header.Type)
	assert.False(t, msg.Header.Timestamp.IsZero())

	back, err := mapper.MapToRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, evt, back)
}

func TestJSONMapper_CallCarriesReplyAddress(t *testing.T) {
	mapper := brighter.NewJSONMapper("prices", brighter.MTCommand,
		func() *priceQuery { return &priceQuery{} }, nil)

	q := &priceQuery{CallRequest: brighter.NewCallRequest(), SKU: "sku-9"}
	q.ReplyTo = brighter.ReplyAddress{Topic: "reply-chan", CorrelationID: brighter.NewCommand().RequestID}

	msg, err := mapper.MapToMessage(q)
	require.NoError(t, err)
	assert.Equal(t, "reply-chan", msg.Header.ReplyTo)
	assert.Equal(t, q.ReplyTo.CorrelationID, msg.Header.CorrelationID)
}

func TestMapperRegistry_MissingMapperIsConfigurationError(t *testing.T) {
	reg := brighter.NewMapperRegistry()
	_, err := reg.Get(brighter.KeyFor[*orderPlaced]())
	require.ErrorIs(t, err, brighter.ErrConfiguration)
}

func TestTypeKeys_PointerAndValueAgree(t *testing.T) {
	byValue := brighter.KeyOf(orderPlaced{})
	byPointer := brighter.KeyOf(&orderPlaced{})
	static := brighter.KeyFor[*orderPlaced]()

	assert.Equal(t, byValue, byPointer)
	assert.Equal(t, byValue, static)
	assert.Contains(t, string(byValue), "orderPlaced")
}
