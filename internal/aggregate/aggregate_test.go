package aggregate

import (
	"errors"
	"testing"

	"marketpipe/internal/record"
)

func symbols(recs []record.CanonicalRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Symbol
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMarket_ThreeAssetsTopAndBottomOverlap(t *testing.T) {
	in := []record.CanonicalRecord{
		{Symbol: "A", PriceChange24h: 10, MarketCap: 100, Volume24h: 10},
		{Symbol: "B", PriceChange24h: -5, MarketCap: 200, Volume24h: 20},
		{Symbol: "C", PriceChange24h: 2, MarketCap: 300, Volume24h: 30},
	}

	got, err := Market(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"A", "C", "B"}
	if !equal(symbols(got.TopGainers), want) {
		t.Fatalf("gainers: want %v, got %v", want, symbols(got.TopGainers))
	}
	if !equal(symbols(got.TopLosers), want) {
		t.Fatalf("losers: want %v, got %v", want, symbols(got.TopLosers))
	}
	if got.Count != 3 || got.TotalMarketCap != 600 || got.TotalVolume24h != 60 {
		t.Fatalf("unexpected totals: %+v", got)
	}
}

func TestMarket_LosersAreTailOfRanking(t *testing.T) {
	in := []record.CanonicalRecord{
		{Symbol: "A", PriceChange24h: 1},
		{Symbol: "B", PriceChange24h: 5},
		{Symbol: "C", PriceChange24h: -3},
		{Symbol: "D", PriceChange24h: 0},
		{Symbol: "E", PriceChange24h: -8},
	}
	got, err := Market(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equal(symbols(got.TopGainers), []string{"B", "A", "D"}) {
		t.Fatalf("gainers: %v", symbols(got.TopGainers))
	}
	if !equal(symbols(got.TopLosers), []string{"D", "C", "E"}) {
		t.Fatalf("losers: %v", symbols(got.TopLosers))
	}
}

func TestMarket_TiesKeepSnapshotOrder(t *testing.T) {
	in := []record.CanonicalRecord{
		{Symbol: "X", PriceChange24h: 1},
		{Symbol: "Y", PriceChange24h: 1},
		{Symbol: "Z", PriceChange24h: 1},
		{Symbol: "W", PriceChange24h: 1},
	}
	got, _ := Market(in)
	if !equal(symbols(got.TopGainers), []string{"X", "Y", "Z"}) {
		t.Fatalf("gainers: %v", symbols(got.TopGainers))
	}
	if !equal(symbols(got.TopLosers), []string{"Y", "Z", "W"}) {
		t.Fatalf("losers: %v", symbols(got.TopLosers))
	}
}

func TestMarket_DecimalSumsAvoidFloatDrift(t *testing.T) {
	in := []record.CanonicalRecord{
		{Symbol: "A", MarketCap: 0.1},
		{Symbol: "B", MarketCap: 0.2},
	}
	got, _ := Market(in)
	if got.TotalMarketCap != 0.3 {
		t.Fatalf("want 0.3, got %v", got.TotalMarketCap)
	}
}

func TestMarket_Empty(t *testing.T) {
	if _, err := Market(nil); !errors.Is(err, ErrNoData) {
		t.Fatalf("want ErrNoData, got %v", err)
	}
}

func TestSnapshot_NewestPerSymbolFirstSeenOrder(t *testing.T) {
	in := []record.CanonicalRecord{
		{Symbol: "ETH", ObservedAt: 10, PriceUSD: 1},
		{Symbol: "BTC", ObservedAt: 10, PriceUSD: 2},
		{Symbol: "ETH", ObservedAt: 20, PriceUSD: 3},
		{Symbol: "ETH", ObservedAt: 15, PriceUSD: 4},
		{Symbol: "BTC", ObservedAt: 10, PriceUSD: 5},
	}
	out := Snapshot(in)
	if len(out) != 2 || out[0].Symbol != "ETH" || out[1].Symbol != "BTC" {
		t.Fatalf("unexpected order: %+v", out)
	}
	if out[0].PriceUSD != 3 {
		t.Fatalf("newest ETH should win: %+v", out[0])
	}
	if out[1].PriceUSD != 5 {
		t.Fatalf("equal timestamps: later input wins: %+v", out[1])
	}
}
