package cache

import (
	"context"
	"errors"
	"time"

	"marketpipe/internal/record"
)

// ErrCache marks a best-effort cache failure. Callers log it and move on.
var ErrCache = errors.New("cache: operation failed")

const (
	// DefaultTTL bounds how long a latest-value entry is served.
	DefaultTTL = 300 * time.Second
	// DefaultWindowCap is the per-symbol historical window size.
	DefaultWindowCap = 1000
)

// Latest holds one TTL-bound entry per symbol.
type Latest interface {
	SetLatest(ctx context.Context, rec record.CanonicalRecord, ttl time.Duration) error
	// GetLatest reports ok=false for missing or expired entries.
	GetLatest(ctx context.Context, symbol string) (rec record.CanonicalRecord, ok bool, err error)
}

// Window is the capped per-symbol history ordered by observed_at.
type Window interface {
	// Append inserts rec and trims the window to its cap in one atomic step.
	// A record with an observed_at already in the window replaces it. The
	// window keeps the cap highest observed_at values, so a record older than
	// every entry of a full window is dropped right away.
	Append(ctx context.Context, rec record.CanonicalRecord) error
	// Range returns entries with observed_at in [from, to], most recent first.
	Range(ctx context.Context, symbol string, from, to time.Time, limit int) ([]record.CanonicalRecord, error)
	Len(ctx context.Context, symbol string) (int, error)
}

// Cache is the latest-value cache plus historical window backend.
type Cache interface {
	Latest
	Window
}
