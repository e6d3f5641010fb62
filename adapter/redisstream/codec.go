package redisstream

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/penderi/Brighter"
)

// Field constants (avoid typos/allocs)
const (
	fieldID            = "id"
	fieldTopic         = "topic"
	fieldType          = "type"
	fieldTimestamp     = "timestamp" // int64 ns
	fieldCorrelationID = "correlationId"
	fieldReplyTo       = "replyTo"
	fieldDelay         = "delay" // int64 ns
	fieldBody          = "body"  // raw []byte (no base64)
	fieldMetaPrefix    = "meta:"
)

// toValues flattens a message into stream/hash fields.
func toValues(msg *brighter.Message) map[string]any {
	h := msg.Header
	vals := map[string]any{
		fieldID:        h.ID.String(),
		fieldTopic:     h.Topic,
		fieldType:      string(h.Type),
		fieldTimestamp: h.Timestamp.UnixNano(),
		fieldBody:      msg.Body,
	}
	if h.CorrelationID != uuid.Nil {
		vals[fieldCorrelationID] = h.CorrelationID.String()
	}
	if h.ReplyTo != "" {
		vals[fieldReplyTo] = h.ReplyTo
	}
	if h.Delay > 0 {
		vals[fieldDelay] = int64(h.Delay)
	}
	for k, v := range h.Bag {
		vals[fieldMetaPrefix+k] = v
	}
	return vals
}

// fromValues rebuilds a message from stream/hash fields. Unknown or
// malformed fields degrade to zero values rather than failing the read.
func fromValues(vals map[string]string) *brighter.Message {
	msg := &brighter.Message{}
	h := &msg.Header
	for k, v := range vals {
		switch k {
		case fieldID:
			if id, err := uuid.Parse(v); err == nil {
				h.ID = id
			}
		case fieldTopic:
			h.Topic = v
		case fieldType:
			h.Type = brighter.MessageType(v)
		case fieldTimestamp:
			if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
				h.Timestamp = time.Unix(0, ns)
			}
		case fieldCorrelationID:
			if id, err := uuid.Parse(v); err == nil {
				h.CorrelationID = id
			}
		case fieldReplyTo:
			h.ReplyTo = v
		case fieldDelay:
			if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
				h.Delay = time.Duration(ns)
			}
		case fieldBody:
			msg.Body = []byte(v)
		default:
			if name, ok := strings.CutPrefix(k, fieldMetaPrefix); ok {
				if h.Bag == nil {
					h.Bag = make(map[string]string)
				}
				h.Bag[name] = v
			}
		}
	}
	if h.Type == "" {
		h.Type = brighter.MTNone
	}
	return msg
}
