package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketpipe/internal/record"
	"marketpipe/internal/source"
)

// TokenBucket is a token bucket limiter.
// - rate: tokens per second
// - capacity: maximum tokens the bucket can hold (burst)
type TokenBucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		rate:     tokensPerSecond,
		capacity: float64(burst),
		tokens:   float64(burst), // start full to allow an initial burst
		last:     time.Now(),
	}
}

// PerMinute builds a bucket from a requests-per-minute budget.
func PerMinute(rpm, burst int) *TokenBucket {
	return NewTokenBucket(float64(rpm)/60.0, burst)
}

// Wait blocks until one token is available or ctx is canceled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.last).Seconds()
		if elapsed > 0 {
			tb.tokens += elapsed * tb.rate
			if tb.tokens > tb.capacity {
				tb.tokens = tb.capacity
			}
			tb.last = now
		}
		if tb.tokens >= 1 {
			tb.tokens -= 1
			tb.mu.Unlock()
			return nil
		}
		deficit := 1 - tb.tokens
		tb.mu.Unlock()
		waitDur := time.Duration(deficit / tb.rate * float64(time.Second))
		if waitDur <= 0 {
			waitDur = time.Millisecond
		}
		timer := time.NewTimer(waitDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TokenBucketSource wraps a Source and gates pulls using a token bucket.
type TokenBucketSource struct {
	S  source.Source
	TB *TokenBucket
}

func (t *TokenBucketSource) Name() string { return t.S.Name() }

func (t *TokenBucketSource) Fetch(ctx context.Context) (record.RawSnapshot, error) {
	if t.TB != nil {
		if err := t.TB.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return t.S.Fetch(ctx)
}

// Wrap applies the configured limiter: a token bucket when rpm > 0,
// otherwise a minimum interval when set, otherwise s unchanged.
func Wrap(s source.Source, rpm, burst int, minInterval time.Duration) source.Source {
	if rpm > 0 {
		return &TokenBucketSource{S: s, TB: PerMinute(rpm, burst)}
	}
	if minInterval > 0 {
		return &MinInterval{S: s, Interval: minInterval}
	}
	return s
}
