package brighter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Call sends a request expecting a response over an ephemeral reply
// channel, blocking for at most timeout. The returned Request is the mapped
// response, already dispatched locally through Send so its registered
// handler has run; a nil Request with a nil error means no matching
// response was accepted: the receive timed out, or the reply carried a
// foreign correlation id.
//
// The reply channel lives only for this call and is destroyed on every exit
// path, including cancellation. A response is accepted only if its
// correlation id matches the channel id generated for this call; a reply
// with a foreign correlation id is dropped with a warning log and ends the
// call as above, and arrivals after the channel is closed are discarded.
func (p *CommandProcessor) Call(ctx context.Context, req Call, timeout time.Duration) (Request, error) {
	if p.closed.Load() {
		return nil, ErrProcessorClosed
	}
	if timeout <= 0 {
		return nil, contractError("call timeout must be positive, got %s", timeout)
	}
	if p.bus == nil {
		return nil, configurationError("no external bus configured")
	}
	if p.channels == nil {
		return nil, configurationError("no channel factory configured")
	}
	if p.subscribers == nil || p.factory == nil {
		// The response is dispatched locally as a Send, which needs a
		// handler registry.
		return nil, configurationError("call requires a subscriber registry and handler factory for the response")
	}
	if p.mappers == nil {
		return nil, configurationError("no mapper registry configured")
	}

	key := KeyOf(req)
	reqMapper, err := p.mappers.Get(key)
	if err != nil {
		return nil, err
	}
	replySub, ok := p.replySubs[key]
	if !ok {
		return nil, configurationError("no reply subscription registered for %s", key)
	}
	respMapper, err := p.mappers.Get(replySub.RequestKey)
	if err != nil {
		return nil, err
	}

	// Fresh channel id; the subscription and the request's reply address
	// both carry it so the remote handler can route the response back.
	channelID := uuid.New()
	sub := replySub.clone()
	sub.ChannelName = channelID.String()
	sub.RoutingKey = channelID.String()

	addr := req.Reply()
	addr.Topic = channelID.String()
	addr.CorrelationID = channelID

	ch, err := p.channels.CreateChannel(sub)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Teardown must survive caller cancellation.
		if cerr := ch.Close(context.WithoutCancel(ctx)); cerr != nil {
			p.logger.Warn().Err(cerr).Msg("brighter: reply channel close failed")
		}
	}()

	// Purge forces broker-side creation before the request goes out.
	if err := p.bus.Retry(ctx, ch.Purge); err != nil {
		return nil, err
	}

	msg, err := reqMapper.MapToMessage(req)
	if err != nil {
		return nil, err
	}
	start := p.clock.Now()
	if err := p.bus.SendViaExternalBus(ctx, msg); err != nil {
		return nil, err
	}

	var reply *Message
	err = p.bus.Retry(ctx, func(ctx context.Context) error {
		var rerr error
		reply, rerr = ch.Receive(ctx, timeout)
		return rerr
	})
	if err != nil {
		return nil, err
	}

	if reply == nil || reply.Header.Type == MTNone {
		// Semantic timeout: the caller gets the type's zero value.
		p.notify(Event{Type: CallDone, Key: key, MessageID: req.ID(), Duration: p.clock.Since(start)})
		return nil, nil
	}
	if reply.Header.CorrelationID != channelID {
		p.logger.Warn().Msg("brighter: dropped reply with foreign correlation id")
		p.notify(Event{Type: CallDone, Key: key, MessageID: req.ID(), Duration: p.clock.Since(start)})
		return nil, nil
	}

	response, err := respMapper.MapToRequest(reply)
	if err != nil {
		return nil, err
	}
	err = p.Send(ctx, response)
	p.notify(Event{Type: CallDone, Key: key, MessageID: req.ID(), Duration: p.clock.Since(start), Err: err})
	if err != nil {
		return response, err
	}
	return response, nil
}
