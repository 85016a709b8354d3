package record

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrValidation marks a raw asset that could not be mapped to a record.
var ErrValidation = errors.New("record: validation failed")

// ValidationError names the asset and field that failed validation.
type ValidationError struct {
	AssetID string
	Field   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record: asset %q: missing %s", e.AssetID, e.Field)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Normalize maps a raw snapshot to canonical records, one per asset id, with
// the symbol upper-cased. Missing numeric fields default to 0 and a missing
// update instant defaults to capturedAt, so partial data never blocks the
// other assets. Assets without an id are dropped and reported through the
// returned error; the valid records are returned either way.
// Output is ordered by symbol.
func Normalize(raw RawSnapshot, capturedAt time.Time, source string) ([]CanonicalRecord, error) {
	captured := capturedAt.UTC()
	out := make([]CanonicalRecord, 0, len(raw))
	var errs []error
	for id, a := range raw {
		sym := strings.ToUpper(strings.TrimSpace(id))
		if sym == "" {
			errs = append(errs, &ValidationError{AssetID: id, Field: "symbol"})
			continue
		}
		observed := captured.Unix()
		if a.LastUpdatedAt != nil && *a.LastUpdatedAt > 0 {
			observed = *a.LastUpdatedAt
		}
		out = append(out, CanonicalRecord{
			Symbol:         sym,
			PriceUSD:       valueOr(a.USD),
			MarketCap:      valueOr(a.USDMarketCap),
			Volume24h:      valueOr(a.USD24hVol),
			PriceChange24h: valueOr(a.USD24hChange),
			ObservedAt:     observed,
			CapturedAt:     captured.Format(time.RFC3339),
			Source:         source,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, errors.Join(errs...)
}

// NormalizeAsset is the strict single-asset mapping: every numeric field must
// be present. Batch callers should use Normalize, which defaults instead.
func NormalizeAsset(id string, a RawAsset, capturedAt time.Time, source string) (CanonicalRecord, error) {
	required := []struct {
		name string
		ok   bool
	}{
		{"usd", a.USD != nil},
		{"usd_market_cap", a.USDMarketCap != nil},
		{"usd_24h_vol", a.USD24hVol != nil},
		{"usd_24h_change", a.USD24hChange != nil},
	}
	for _, f := range required {
		if !f.ok {
			return CanonicalRecord{}, &ValidationError{AssetID: id, Field: f.name}
		}
	}
	recs, err := Normalize(RawSnapshot{id: a}, capturedAt, source)
	if err != nil {
		return CanonicalRecord{}, err
	}
	return recs[0], nil
}

// Validate checks the identity field of a record received from elsewhere,
// e.g. decoded off the stream.
func (r CanonicalRecord) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return &ValidationError{AssetID: r.Symbol, Field: "symbol"}
	}
	return nil
}

func valueOr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
