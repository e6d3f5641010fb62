// Package redisstream backs the brighter external bus with Redis: messages
// are produced to Redis Streams (XADD), the outbox lives in Redis hashes
// with a pending index (sorted set), and Call reply channels are ephemeral
// streams read with XREAD BLOCK.
//
// The adapter is wired with Use:
//
//	rs, err := redisstream.Use(redisstream.Config{Addr: "localhost:6379"})
//	processor, err := brighter.NewCommandProcessorBuilder().
//	    WithExternalBus(rs.Bus).
//	    WithChannelFactory(rs.Channels).
//	    ...
//
// Everything here assumes the connected Redis is shared with the consumers
// on the other side of the broker; this package implements only the
// producing half the core needs.
package redisstream
