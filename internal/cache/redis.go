package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"marketpipe/internal/record"
)

// Redis stores the latest record per symbol as a string with EX and the
// historical window as a sorted set scored by observed_at.
type Redis struct {
	rdb *redis.Client
	cap int
}

func NewRedis(rdb *redis.Client, capacity int) *Redis {
	if capacity <= 0 {
		capacity = DefaultWindowCap
	}
	return &Redis{rdb: rdb, cap: capacity}
}

func latestKey(symbol string) string  { return fmt.Sprintf("crypto:%s:latest", symbol) }
func historyKey(symbol string) string { return fmt.Sprintf("crypto:%s:history", symbol) }

func (r *Redis) SetLatest(ctx context.Context, rec record.CanonicalRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	b, err := record.Encode(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	if err := r.rdb.Set(ctx, latestKey(rec.Symbol), b, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set latest %s: %w", ErrCache, rec.Symbol, err)
	}
	return nil
}

func (r *Redis) GetLatest(ctx context.Context, symbol string) (record.CanonicalRecord, bool, error) {
	b, err := r.rdb.Get(ctx, latestKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return record.CanonicalRecord{}, false, nil
	}
	if err != nil {
		return record.CanonicalRecord{}, false, fmt.Errorf("%w: get latest %s: %w", ErrCache, symbol, err)
	}
	rec, err := record.Decode(b)
	if err != nil {
		return record.CanonicalRecord{}, false, fmt.Errorf("%w: %w", ErrCache, err)
	}
	return rec, true, nil
}

// Append replaces any member at the same observed_at, adds rec and trims the
// lowest ranks beyond the cap inside one MULTI/EXEC.
func (r *Redis) Append(ctx context.Context, rec record.CanonicalRecord) error {
	b, err := record.Encode(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	key := historyKey(rec.Symbol)
	score := strconv.FormatInt(rec.ObservedAt, 10)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(rec.ObservedAt), Member: b})
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-(r.cap + 1)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: append %s: %w", ErrCache, rec.Symbol, err)
	}
	return nil
}

func (r *Redis) Range(ctx context.Context, symbol string, from, to time.Time, limit int) ([]record.CanonicalRecord, error) {
	if limit <= 0 || limit > r.cap {
		limit = r.cap
	}
	members, err := r.rdb.ZRevRangeByScore(ctx, historyKey(symbol), &redis.ZRangeBy{
		Min:   strconv.FormatInt(from.Unix(), 10),
		Max:   strconv.FormatInt(to.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: range %s: %w", ErrCache, symbol, err)
	}
	out := make([]record.CanonicalRecord, 0, len(members))
	for _, m := range members {
		rec, err := record.Decode([]byte(m))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Redis) Len(ctx context.Context, symbol string) (int, error) {
	n, err := r.rdb.ZCard(ctx, historyKey(symbol)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: zcard %s: %w", ErrCache, symbol, err)
	}
	return int(n), nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
