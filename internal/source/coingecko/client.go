package coingecko

import (
	"net/http"
	"net/url"

	"golang.org/x/sync/singleflight"

	"marketpipe/internal/source"
)

const baseURL = "https://api.coingecko.com/api/v3"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=coingecko_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client pulls market snapshots from the CoinGecko simple price API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// assetIDs are the CoinGecko ids pulled on every Fetch.
	assetIDs []string
	// vsCurrency is the quote currency; the normalizer expects usd.
	vsCurrency string

	// sf coalesces concurrent pulls, e.g. a producer tick racing a cache refresh.
	sf singleflight.Group
}

// Option is a configuration option for the CoinGecko client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithAPIKey authenticates requests with a demo API key.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if key != "" {
			c.header.Set("x-cg-demo-api-key", key)
		}
	}
}

// WithAssetIDs overrides the tracked asset ids.
func WithAssetIDs(ids []string) Option {
	return func(c *Client) {
		if len(ids) > 0 {
			c.assetIDs = append([]string(nil), ids...)
		}
	}
}

// New creates a new CoinGecko client tracking source.DefaultAssetIDs.
func New(options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		assetIDs:   append([]string(nil), source.DefaultAssetIDs...),
		vsCurrency: "usd",
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return "CoinGecko" }

// AssetIDs returns the tracked asset ids.
func (c *Client) AssetIDs() []string { return append([]string(nil), c.assetIDs...) }

func (c *Client) query() url.Values {
	q := url.Values{}
	q.Set("vs_currencies", c.vsCurrency)
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_24hr_change", "true")
	q.Set("include_last_updated_at", "true")
	return q
}
