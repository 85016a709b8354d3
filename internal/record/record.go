package record

import (
	"time"
)

// Source tag stamped on records pulled from CoinGecko.
const SourceCoinGecko = "coingecko"

// CanonicalRecord is one asset's market snapshot at one instant.
// It is the shape carried on the stream and written to every store.
type CanonicalRecord struct {
	Symbol         string  `json:"symbol"`
	PriceUSD       float64 `json:"price_usd"`
	MarketCap      float64 `json:"market_cap"`
	Volume24h      float64 `json:"volume_24h"`
	PriceChange24h float64 `json:"price_change_24h"`
	// ObservedAt is the source-reported update instant in epoch seconds.
	ObservedAt int64 `json:"observed_at"`
	// CapturedAt is the pipeline ingestion instant, RFC 3339.
	CapturedAt string `json:"captured_at"`
	Source     string `json:"source"`
}

// Observed returns ObservedAt as a UTC time.
func (r CanonicalRecord) Observed() time.Time {
	return time.Unix(r.ObservedAt, 0).UTC()
}

// Key identifies a record in the durable store and the historical window.
type Key struct {
	Symbol     string
	ObservedAt int64
}

func (r CanonicalRecord) Key() Key {
	return Key{Symbol: r.Symbol, ObservedAt: r.ObservedAt}
}

// RawAsset is one untrusted entry of an external snapshot. Pointer fields
// distinguish a missing key from an explicit zero.
type RawAsset struct {
	USD           *float64 `json:"usd"`
	USDMarketCap  *float64 `json:"usd_market_cap"`
	USD24hVol     *float64 `json:"usd_24h_vol"`
	USD24hChange  *float64 `json:"usd_24h_change"`
	LastUpdatedAt *int64   `json:"last_updated_at"`
}

// RawSnapshot is one pull of the external source keyed by asset id.
type RawSnapshot map[string]RawAsset
