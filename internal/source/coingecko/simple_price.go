package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"marketpipe/internal/record"
	"marketpipe/internal/source"
)

// Fetch pulls one snapshot of the tracked assets. Concurrent calls share a
// single upstream request. Every error wraps source.ErrFetch.
func (c *Client) Fetch(ctx context.Context) (record.RawSnapshot, error) {
	v, err, _ := c.sf.Do("simple/price", func() (any, error) {
		return c.simplePrice(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(record.RawSnapshot), nil
}

func (c *Client) simplePrice(ctx context.Context) (record.RawSnapshot, error) {
	query := c.query()
	query.Set("ids", strings.Join(c.assetIDs, ","))

	url := fmt.Sprintf("%s/simple/price?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", source.ErrFetch, err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: performing request: %w", source.ErrFetch, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: unauthorized", source.ErrFetch)

	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: rate limited", source.ErrFetch)

	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, fmt.Errorf("%w: unexpected status code %d: %s", source.ErrFetch, res.StatusCode, string(b))
	}

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding simple price response: %w", source.ErrFetch, err)
	}

	snap := make(record.RawSnapshot, len(body))
	for id, raw := range body {
		// {
		//   "usd": 67187.34,
		//   "usd_market_cap": 1317802988326.25,
		//   "usd_24h_vol": 31260929299.52,
		//   "usd_24h_change": 3.64,
		//   "last_updated_at": 1711356300
		// }
		fields, ok := raw.(map[string]any)
		if !ok {
			// The payload is untrusted; a malformed entry becomes an all-zero asset.
			snap[id] = record.RawAsset{}
			continue
		}
		var a record.RawAsset
		a.USD = numberField(fields, "usd")
		a.USDMarketCap = numberField(fields, "usd_market_cap")
		a.USD24hVol = numberField(fields, "usd_24h_vol")
		a.USD24hChange = numberField(fields, "usd_24h_change")
		if ts := numberField(fields, "last_updated_at"); ts != nil {
			v := int64(*ts)
			a.LastUpdatedAt = &v
		}
		snap[id] = a
	}
	return snap, nil
}

// numberField returns the numeric value at key, or nil when it is missing,
// null or not a number.
func numberField(data map[string]any, key string) *float64 {
	v, err := parseNullableValue[float64](data, key)
	if err != nil {
		return nil
	}
	return v
}

// parseNullableValue is a helper function to parse a nullable value.
func parseNullableValue[T any](data map[string]any, key string) (*T, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, nil
	}
	if v, ok := v.(T); ok {
		return &v, nil
	}
	return nil, fmt.Errorf("unexpected type for %s: %T", key, v)
}
