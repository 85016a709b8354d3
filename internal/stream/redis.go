package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig names the stream and consumer group.
type RedisConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MaxLen caps the stream length (approximate trim); 0 disables trimming.
	MaxLen int64
	// Block bounds how long one Fetch waits for new entries.
	Block time.Duration
	// PendingRetry is how often this consumer rescans its own unacked
	// entries. The first scan happens on the first Fetch.
	PendingRetry time.Duration
}

// Redis is a Redis Streams transport. A single stream keeps global order, so
// per-key order holds trivially. Unacked entries are redelivered to the same
// consumer on restart and then every PendingRetry.
type Redis struct {
	rdb *redis.Client
	cfg RedisConfig
	now func() time.Time

	// pendingFrom is the replay cursor into the pending list; empty when no
	// replay pass is running.
	pendingFrom string
	lastScan    time.Time
}

func NewRedis(rdb *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Stream == "" {
		cfg.Stream = "crypto-price-stream"
	}
	if cfg.Group == "" {
		cfg.Group = "processor"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "processor-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.PendingRetry <= 0 {
		cfg.PendingRetry = 30 * time.Second
	}
	return &Redis{rdb: rdb, cfg: cfg, now: time.Now}
}

func (r *Redis) Publish(ctx context.Context, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]any{"key": key, "payload": payload},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	if err := r.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: xadd %s: %w", ErrTransport, key, err)
	}
	return nil
}

// EnsureGroup creates the consumer group (and the stream) when missing.
func (r *Redis) EnsureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group: %w", ErrTransport, err)
	}
	return nil
}

// Fetch replays this consumer's pending entries in one forward pass, then
// reads new ones. Each pass walks the pending list once from a cursor, so an
// entry that keeps failing is seen once per pass and never blocks new
// entries. A new pass starts every PendingRetry.
func (r *Redis) Fetch(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	if now := r.now(); r.pendingFrom == "" && (r.lastScan.IsZero() || now.Sub(r.lastScan) >= r.cfg.PendingRetry) {
		r.pendingFrom, r.lastScan = "0", now
	}
	if r.pendingFrom != "" {
		msgs, err := r.read(ctx, r.pendingFrom, max, -1)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			r.pendingFrom = msgs[len(msgs)-1].ID
			return msgs, nil
		}
		r.pendingFrom = ""
	}
	return r.read(ctx, ">", max, r.cfg.Block)
}

func (r *Redis) read(ctx context.Context, id string, max int, block time.Duration) ([]Message, error) {
	res, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		Streams:  []string{r.cfg.Stream, id},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: xreadgroup: %w", ErrTransport, err)
	}
	var out []Message
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, Message{
				ID:      m.ID,
				Key:     stringValue(m.Values["key"]),
				Payload: []byte(stringValue(m.Values["payload"])),
			})
		}
	}
	return out, nil
}

func (r *Redis) Ack(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := r.rdb.XAck(ctx, r.cfg.Stream, r.cfg.Group, ids...).Err(); err != nil {
		return fmt.Errorf("%w: xack: %w", ErrTransport, err)
	}
	return nil
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return ""
	}
}
