package aggregate

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"marketpipe/internal/record"
)

// ErrNoData is returned when there is nothing to aggregate.
var ErrNoData = errors.New("aggregate: no market data")

// TopN is the size of the gainers and losers lists.
const TopN = 3

// Analytics is a market-wide summary over one snapshot.
type Analytics struct {
	TotalMarketCap float64                  `json:"total_market_cap"`
	TotalVolume24h float64                  `json:"total_volume_24h"`
	Count          int                      `json:"crypto_count"`
	TopGainers     []record.CanonicalRecord `json:"top_gainers"`
	TopLosers      []record.CanonicalRecord `json:"top_losers"`
}

// Snapshot collapses records to the newest per symbol, keeping the order in
// which symbols first appear. For equal observed_at, later input wins.
func Snapshot(recs []record.CanonicalRecord) []record.CanonicalRecord {
	pos := make(map[string]int, len(recs))
	out := make([]record.CanonicalRecord, 0, len(recs))
	for _, r := range recs {
		i, ok := pos[r.Symbol]
		if !ok {
			pos[r.Symbol] = len(out)
			out = append(out, r)
			continue
		}
		if r.ObservedAt >= out[i].ObservedAt {
			out[i] = r
		}
	}
	return out
}

// Market sums market cap and volume and ranks the snapshot by 24h change.
// Ranking is a stable descending sort, so ties keep snapshot order; losers
// are the last TopN of that ranking. With TopN or fewer assets both lists
// hold the same records.
func Market(recs []record.CanonicalRecord) (Analytics, error) {
	snap := Snapshot(recs)
	if len(snap) == 0 {
		return Analytics{}, ErrNoData
	}

	capSum, volSum := decimal.Zero, decimal.Zero
	for _, r := range snap {
		capSum = capSum.Add(decimal.NewFromFloat(r.MarketCap))
		volSum = volSum.Add(decimal.NewFromFloat(r.Volume24h))
	}

	ranked := append([]record.CanonicalRecord(nil), snap...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PriceChange24h > ranked[j].PriceChange24h
	})

	n := min(TopN, len(ranked))
	return Analytics{
		TotalMarketCap: capSum.InexactFloat64(),
		TotalVolume24h: volSum.InexactFloat64(),
		Count:          len(snap),
		TopGainers:     append([]record.CanonicalRecord(nil), ranked[:n]...),
		TopLosers:      append([]record.CanonicalRecord(nil), ranked[len(ranked)-n:]...),
	}, nil
}
