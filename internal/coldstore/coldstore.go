package coldstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketpipe/internal/record"
)

// ErrColdStore marks a failed archive operation. Archiving is best effort.
var ErrColdStore = errors.New("coldstore: archive failed")

// ErrNotExist is returned by Get for a missing key.
var ErrNotExist = errors.New("coldstore: object not found")

// Store is an immutable blob store keyed by partitioned paths.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// KeyFor returns raw/crypto/YYYY/MM/DD/HH/{SYMBOL}_{observed_at}.json with the
// partition taken from observed_at in UTC.
func KeyFor(rec record.CanonicalRecord) string {
	t := time.Unix(rec.ObservedAt, 0).UTC()
	return fmt.Sprintf("raw/crypto/%04d/%02d/%02d/%02d/%s_%d.json",
		t.Year(), t.Month(), t.Day(), t.Hour(), rec.Symbol, rec.ObservedAt)
}

// Archive encodes rec and stores it under KeyFor(rec).
func Archive(ctx context.Context, s Store, rec record.CanonicalRecord) (string, error) {
	key := KeyFor(rec)
	body, err := record.Encode(rec)
	if err != nil {
		return key, fmt.Errorf("%w: %w", ErrColdStore, err)
	}
	if err := s.Put(ctx, key, body); err != nil {
		return key, err
	}
	return key, nil
}
