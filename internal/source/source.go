package source

import (
	"context"
	"errors"
	"strings"

	"marketpipe/internal/record"
)

// ErrFetch marks a failed pull from the external source: unreachable,
// timed out, rejected or unparseable.
var ErrFetch = errors.New("source: fetch failed")

// Source pulls one market snapshot keyed by asset id.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (record.RawSnapshot, error)
}

// DefaultAssetIDs is the tracked asset set pulled when none is configured.
var DefaultAssetIDs = []string{
	"bitcoin", "ethereum", "binancecoin", "cardano",
	"solana", "polkadot", "chainlink", "litecoin",
}

// Symbols maps asset ids to the symbols the normalizer will assign them.
func Symbols(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
