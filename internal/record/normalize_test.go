package record

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestNormalize_OneRecordPerAsset_Uppercased(t *testing.T) {
	captured := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	raw := RawSnapshot{
		"bitcoin": {
			USD: ptr(64000.5), USDMarketCap: ptr(1.2e12), USD24hVol: ptr(3.4e10),
			USD24hChange: ptr(-1.25), LastUpdatedAt: ptr(int64(1741064700)),
		},
		"ethereum": {USD: ptr(3100.0), USD24hChange: ptr(2.5), LastUpdatedAt: ptr(int64(1741064710))},
		"solana":   {},
	}

	recs, err := Normalize(raw, captured, SourceCoinGecko)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	require.Equal(t, "BITCOIN", recs[0].Symbol)
	require.Equal(t, "ETHEREUM", recs[1].Symbol)
	require.Equal(t, "SOLANA", recs[2].Symbol)

	btc := recs[0]
	require.InEpsilon(t, 64000.5, btc.PriceUSD, 1e-9)
	require.InEpsilon(t, 1.2e12, btc.MarketCap, 1e-9)
	require.InEpsilon(t, 3.4e10, btc.Volume24h, 1e-9)
	require.InEpsilon(t, -1.25, btc.PriceChange24h, 1e-9)
	require.Equal(t, int64(1741064700), btc.ObservedAt)
	require.Equal(t, "2025-03-04T05:06:07Z", btc.CapturedAt)
	require.Equal(t, SourceCoinGecko, btc.Source)

	// Missing fields default to zero rather than failing the batch.
	eth := recs[1]
	require.Zero(t, eth.MarketCap)
	require.Zero(t, eth.Volume24h)

	sol := recs[2]
	require.Zero(t, sol.PriceUSD)
	require.Equal(t, captured.Unix(), sol.ObservedAt, "missing update instant falls back to capture instant")
}

func TestNormalize_BlankIDDropped_OthersKept(t *testing.T) {
	raw := RawSnapshot{
		"  ":      {USD: ptr(1.0)},
		"cardano": {USD: ptr(0.45)},
	}
	recs, err := Normalize(raw, time.Now(), SourceCoinGecko)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrValidation))
	require.Len(t, recs, 1)
	require.Equal(t, "CARDANO", recs[0].Symbol)
}

func TestNormalize_Empty(t *testing.T) {
	recs, err := Normalize(RawSnapshot{}, time.Now(), SourceCoinGecko)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestNormalizeAsset_MissingFieldIsValidationError(t *testing.T) {
	_, err := NormalizeAsset("bitcoin", RawAsset{USD: ptr(1.0)}, time.Now(), SourceCoinGecko)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "usd_market_cap", verr.Field)
	require.ErrorIs(t, err, ErrValidation)

	rec, err := NormalizeAsset("litecoin", RawAsset{
		USD: ptr(80.0), USDMarketCap: ptr(6e9), USD24hVol: ptr(4e8), USD24hChange: ptr(0.0),
	}, time.Now(), SourceCoinGecko)
	require.NoError(t, err)
	require.Equal(t, "LITECOIN", rec.Symbol)
}

func TestCodec_EncodeDecode(t *testing.T) {
	in := CanonicalRecord{
		Symbol: "BTC", PriceUSD: 1, MarketCap: 2, Volume24h: 3, PriceChange24h: -4,
		ObservedAt: 1700000000, CapturedAt: "2023-11-14T22:13:20Z", Source: SourceCoinGecko,
	}
	b, err := Encode(in)
	require.NoError(t, err)
	require.Contains(t, string(b), `"price_change_24h":-4`)

	out, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = Decode([]byte("{not json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, CanonicalRecord{Symbol: "BTC"}.Validate())
	require.ErrorIs(t, CanonicalRecord{}.Validate(), ErrValidation)
}
