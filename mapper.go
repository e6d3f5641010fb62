package brighter

import (
	"sync"
)

// MessageMapper is the bidirectional codec between a request value and its
// wire Message. MapToMessage must set the message id to the request id.
type MessageMapper interface {
	MapToMessage(req Request) (*Message, error)
	MapToRequest(msg *Message) (Request, error)
}

// MapperRegistry maps request types to their MessageMapper. A missing
// mapper is a configuration failure at the call site, not at registration.
type MapperRegistry struct {
	mu      sync.RWMutex
	mappers map[TypeKey]MessageMapper
}

// NewMapperRegistry returns an empty registry.
func NewMapperRegistry() *MapperRegistry {
	return &MapperRegistry{mappers: make(map[TypeKey]MessageMapper)}
}

// Register associates a request type with its mapper. Last registration
// wins.
func (r *MapperRegistry) Register(key TypeKey, m MessageMapper) {
	r.mu.Lock()
	r.mappers[key] = m
	r.mu.Unlock()
}

// Get returns the mapper for a request type.
func (r *MapperRegistry) Get(key TypeKey) (MessageMapper, error) {
	r.mu.RLock()
	m, ok := r.mappers[key]
	r.mu.RUnlock()
	if !ok {
		return nil, configurationError("no message mapper registered for %s", key)
	}
	return m, nil
}

// RegisterMapper is typed sugar over MapperRegistry.Register.
func RegisterMapper[T Request](r *MapperRegistry, m MessageMapper) {
	r.Register(KeyFor[T](), m)
}

// jsonMapper encodes a request type with a Codec and a fixed topic and
// message type.
type jsonMapper[T Request] struct {
	topic string
	mt    MessageType
	codec Codec
	newT  func() T
}

// NewJSONMapper builds a MessageMapper that serializes T through the given
// codec (defaulting to JSONCodec). newT must return a fresh, addressable
// instance, e.g. func() *PlaceOrder { return &PlaceOrder{} }.
func NewJSONMapper[T Request](topic string, mt MessageType, newT func() T, codec Codec) MessageMapper {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &jsonMapper[T]{topic: topic, mt: mt, codec: codec, newT: newT}
}

func (m *jsonMapper[T]) MapToMessage(req Request) (*Message, error) {
	body, err := m.codec.Marshal(req)
	if err != nil {
		return nil, err
	}
	msg := NewMessage(req.ID(), m.topic, m.mt, body)
	if c, ok := req.(Call); ok {
		addr := c.Reply()
		msg.Header.ReplyTo = addr.Topic
		msg.Header.CorrelationID = addr.CorrelationID
	}
	return msg, nil
}

func (m *jsonMapper[T]) MapToRequest(msg *Message) (Request, error) {
	v := m.newT()
	if err := m.codec.Unmarshal(msg.Body, &v); err != nil {
		return nil, err
	}
	return v, nil
}
