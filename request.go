package brighter

import (
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// Request is implemented by anything the processor can dispatch. The id is
// stable from construction and requests are treated as immutable across
// dispatch (Call mutates only the reply address before sending).
type Request interface {
	ID() uuid.UUID
}

// Command is the embeddable base for requests handled by exactly one
// handler.
//
//	type PlaceOrder struct {
//	    brighter.Command
//	    OrderID string `json:"order_id"`
//	}
type Command struct {
	RequestID uuid.UUID `json:"request_id"`
}

// NewCommand returns a Command base with a fresh id.
func NewCommand() Command { return Command{RequestID: uuid.New()} }

func (c Command) ID() uuid.UUID { return c.RequestID }

// Event is the embeddable base for requests fanned out to zero or more
// handlers.
type Event struct {
	RequestID uuid.UUID `json:"request_id"`
}

// NewEvent returns an Event base with a fresh id.
func NewEvent() Event { return Event{RequestID: uuid.New()} }

func (e Event) ID() uuid.UUID { return e.RequestID }

// ReplyAddress tells the remote handler where to send the response. The
// processor overwrites both fields with the ephemeral channel id at the
// start of a Call.
type ReplyAddress struct {
	Topic         string    `json:"topic"`
	CorrelationID uuid.UUID `json:"correlation_id"`
}

// Call is implemented by requests that expect a Response over an ephemeral
// reply channel. Embed CallRequest for a ready-made implementation.
type Call interface {
	Request
	Reply() *ReplyAddress
}

// CallRequest is the embeddable base for Call requests.
type CallRequest struct {
	Command
	ReplyTo ReplyAddress `json:"reply_to"`
}

// NewCallRequest returns a CallRequest base with a fresh id.
func NewCallRequest() CallRequest { return CallRequest{Command: NewCommand()} }

func (c *CallRequest) Reply() *ReplyAddress { return &c.ReplyTo }

// Response is the embeddable base for replies received by Call. The
// correlation id equals the originating Call's channel id.
type Response struct {
	Command
	CorrelationID uuid.UUID `json:"correlation_id"`
}

// TypeKey identifies a request type in every registry. Keys are computed
// once per concrete type and cached, so dispatch never pays for reflection
// beyond a map probe.
type TypeKey string

var typeKeys sync.Map // reflect.Type -> TypeKey

// KeyOf returns the TypeKey for a request value.
func KeyOf(r Request) TypeKey {
	t := reflect.TypeOf(r)
	if k, ok := typeKeys.Load(t); ok {
		return k.(TypeKey)
	}
	k := keyFromType(t)
	typeKeys.Store(t, k)
	return k
}

// KeyFor returns the TypeKey for a request type known at compile time.
func KeyFor[T Request]() TypeKey {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if k, ok := typeKeys.Load(t); ok {
		return k.(TypeKey)
	}
	k := keyFromType(t)
	typeKeys.Store(t, k)
	return k
}

func keyFromType(t reflect.Type) TypeKey {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return TypeKey(t.String())
	}
	return TypeKey(t.PkgPath() + "." + t.Name())
}
