package brighter

import (
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xlog"
)

// EventType enumerates dispatch lifecycle events for the Observer pattern.
type EventType string

const (
	SendDone    EventType = "send_done"
	PublishDone EventType = "publish_done"
	DepositDone EventType = "deposit_done"
	ClearDone   EventType = "clear_done"
	CallDone    EventType = "call_done"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Key       TypeKey
	MessageID uuid.UUID
	Duration  time.Duration
	Err       error
}

// Observer receives processor lifecycle events. Observers are invoked
// inline on the dispatching goroutine and should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits dispatch events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("request", string(e.Key)),
		xlog.Str("message_id", e.MessageID.String()),
	)
	if e.Err != nil {
		ev.Warn().Err(e.Err).Msg("brighter event")
		return
	}
	if e.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", e.Duration))
	}
	ev.Debug().Msg("brighter event")
}
