package redisstream

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xclock"

	"github.com/penderi/Brighter"
)

const fieldDispatchedAt = "dispatchedAt" // int64 ns, absent until cleared

// Outbox stores messages as Redis hashes keyed by message id, with a
// sorted-set pending index scored by deposit time for the outstanding
// sweep. Entries are de-duplicated by id (HSETNX-style guard on the index).
type Outbox struct {
	client *redis.Client
	cfg    Config
	clock  xclock.Clock
}

var _ brighter.Outbox = (*Outbox)(nil)

// NewOutbox wraps an existing client.
func NewOutbox(client *redis.Client, cfg Config, clock xclock.Clock) *Outbox {
	if clock == nil {
		clock = xclock.Default()
	}
	return &Outbox{client: client, cfg: cfg.withDefaults(), clock: clock}
}

// Add persists the message. conn is ignored: Redis writes cannot join a
// caller's SQL transaction, so a transaction provider should not be
// configured together with this outbox.
func (o *Outbox) Add(ctx context.Context, msg *brighter.Message, timeout time.Duration, _ any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := msg.Header.ID.String()
	now := o.clock.Now()

	added, err := o.client.ZAddNX(ctx, o.cfg.pendingKey(), redis.Z{
		Score:  float64(now.UnixNano()),
		Member: id,
	}).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		// Duplicate deposit of the same id is a no-op.
		exists, err := o.client.Exists(ctx, o.cfg.entryKey(id)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}
	}
	return o.client.HSet(ctx, o.cfg.entryKey(id), toValues(msg)).Err()
}

func (o *Outbox) Get(ctx context.Context, id uuid.UUID) (*brighter.Message, error) {
	vals, err := o.client.HGetAll(ctx, o.cfg.entryKey(id.String())).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, brighter.ErrNotFound
	}
	return fromValues(vals), nil
}

func (o *Outbox) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	key := o.cfg.entryKey(id.String())
	exists, err := o.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return brighter.ErrNotFound
	}
	pipe := o.client.TxPipeline()
	pipe.HSetNX(ctx, key, fieldDispatchedAt, at.UnixNano())
	pipe.ZRem(ctx, o.cfg.pendingKey(), id.String())
	_, err = pipe.Exec(ctx)
	return err
}

// IsDispatched reports whether the entry was already cleared.
func (o *Outbox) IsDispatched(ctx context.Context, id uuid.UUID) (bool, error) {
	return o.client.HExists(ctx, o.cfg.entryKey(id.String()), fieldDispatchedAt).Result()
}

func (o *Outbox) OutstandingMessages(ctx context.Context, olderThan time.Duration, batchSize int) ([]*brighter.Message, error) {
	cutoff := o.clock.Now().Add(-olderThan).UnixNano()
	rng := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}
	if batchSize > 0 {
		rng.Count = int64(batchSize)
	}
	ids, err := o.client.ZRangeByScore(ctx, o.cfg.pendingKey(), rng).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]*brighter.Message, 0, len(ids))
	for _, id := range ids {
		vals, err := o.client.HGetAll(ctx, o.cfg.entryKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			// Index ahead of the hash write; the entry will settle.
			continue
		}
		msgs = append(msgs, fromValues(vals))
	}
	return msgs, nil
}
