package store

import (
	"context"
	"errors"
	"time"

	"marketpipe/internal/record"
)

// ErrDurableWrite marks a failed write on the authoritative path.
var ErrDurableWrite = errors.New("store: durable write failed")

// MaxRange caps rows returned by a range query, matching the window cap.
const MaxRange = 1000

// Durable is the time-series store keyed by (symbol, observed_at).
// Writes are upserts, so redelivered records are harmless.
type Durable interface {
	Put(ctx context.Context, rec record.CanonicalRecord) error
	// Latest returns the most recent record by observed_at; ok is false when
	// the symbol has none.
	Latest(ctx context.Context, symbol string) (rec record.CanonicalRecord, ok bool, err error)
	// Range returns records with observed_at in [from, to], most recent first,
	// at most limit rows.
	Range(ctx context.Context, symbol string, from, to time.Time, limit int) ([]record.CanonicalRecord, error)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxRange {
		return MaxRange
	}
	return limit
}
