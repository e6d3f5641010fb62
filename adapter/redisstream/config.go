package redisstream

import (
	"crypto/tls"

	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed bus components.
type Config struct {
	// Client options
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// MaxLenApprox trims produced streams approximately (0 = unbounded).
	MaxLenApprox int64

	// OutboxKeyPrefix namespaces outbox hashes and the pending index.
	OutboxKeyPrefix string
}

// Defaults returns a production-safe starting configuration.
func Defaults() Config {
	return Config{
		Addr:            "localhost:6379",
		OutboxKeyPrefix: "brighter:outbox:",
	}
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.OutboxKeyPrefix == "" {
		c.OutboxKeyPrefix = "brighter:outbox:"
	}
	return c
}

func newClient(c Config) *redis.Client {
	opts := &redis.Options{
		Addr:     c.Addr,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.TLS {
		opts.TLSConfig = &tls.Config{ServerName: c.TLSServerName, MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// pendingKey indexes undispatched message ids by deposit time.
func (c Config) pendingKey() string { return c.OutboxKeyPrefix + "pending" }

// entryKey addresses one outbox hash.
func (c Config) entryKey(id string) string { return c.OutboxKeyPrefix + id }
