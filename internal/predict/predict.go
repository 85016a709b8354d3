package predict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"marketpipe/internal/record"
)

// ErrUnavailable is returned when no scoring endpoint is configured or the
// endpoint fails.
var ErrUnavailable = errors.New("predict: scoring service unavailable")

// MaxFeatures is how many trailing history points are sent for scoring.
const MaxFeatures = 100

// HTTPClient describes an HTTP client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Feature struct {
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume"`
	MarketCap   float64 `json:"market_cap"`
	PriceChange float64 `json:"price_change"`
}

type request struct {
	Symbol    string    `json:"symbol"`
	Features  []Feature `json:"features"`
	Timestamp string    `json:"timestamp"`
}

type Prediction struct {
	Symbol         string  `json:"symbol"`
	PredictedPrice float64 `json:"predicted_price"`
	Confidence     float64 `json:"confidence"`
	Timestamp      string  `json:"timestamp"`
}

// Features maps the last MaxFeatures records of history, oldest first.
func Features(history []record.CanonicalRecord) []Feature {
	if len(history) > MaxFeatures {
		history = history[len(history)-MaxFeatures:]
	}
	out := make([]Feature, 0, len(history))
	for _, r := range history {
		out = append(out, Feature{
			Price:       r.PriceUSD,
			Volume:      r.Volume24h,
			MarketCap:   r.MarketCap,
			PriceChange: r.PriceChange24h,
		})
	}
	return out
}

// Client calls an opaque JSON scoring endpoint.
type Client struct {
	Endpoint string
	HTTP     HTTPClient
	Now      func() time.Time
}

func New(endpoint string, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{Endpoint: endpoint, HTTP: httpClient, Now: time.Now}
}

func (c *Client) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Predict scores symbol from its history (oldest first).
func (c *Client) Predict(ctx context.Context, symbol string, history []record.CanonicalRecord) (Prediction, error) {
	if c == nil || c.Endpoint == "" {
		return Prediction{}, ErrUnavailable
	}
	ts := c.now().UTC().Format(time.RFC3339)
	body, err := sonic.ConfigStd.Marshal(request{Symbol: symbol, Features: Features(history), Timestamp: ts})
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: read: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Prediction{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(b))
	}
	var out Prediction
	if err := sonic.ConfigStd.Unmarshal(b, &out); err != nil {
		return Prediction{}, fmt.Errorf("%w: decode: %w", ErrUnavailable, err)
	}
	out.Symbol = symbol
	out.Timestamp = ts
	return out, nil
}
