package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"marketpipe/internal/predict"
	"marketpipe/internal/query"
	"marketpipe/internal/record"
)

const maxSymbols = 1000

type api struct {
	svc       *query.Service
	predictor *predict.Client
	logger    *slog.Logger
	timeout   time.Duration
	checks    map[string]func(context.Context) error
	now       func() time.Time
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /api/prices", a.handlePrices)
	mux.HandleFunc("GET /api/prices/{symbol}", a.handlePrice)
	mux.HandleFunc("GET /api/history/{symbol}", a.handleHistory)
	mux.HandleFunc("GET /api/analytics/market", a.handleAnalytics)
	mux.HandleFunc("POST /api/cache/refresh", a.handleRefresh)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	return mux
}

func (a *api) timestamp() string {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	return now().UTC().Format(time.RFC3339)
}

func (a *api) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.timeout)
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": results, "timestamp": a.timestamp()})
}

func (a *api) handlePrices(w http.ResponseWriter, r *http.Request) {
	symbols := splitCSV(r.URL.Query().Get("symbols"))
	if len(symbols) > maxSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols (max 1000)")
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	prices, err := a.svc.GetLatest(ctx, symbols...)
	if err != nil && len(prices) == 0 {
		a.logger.Error("get latest failed", "err", err)
		writeError(w, http.StatusGatewayTimeout, "price lookup timed out")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":      prices,
		"count":     len(prices),
		"timestamp": a.timestamp(),
	})
}

func (a *api) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	ctx, cancel := a.ctx(r)
	defer cancel()
	rec, err := a.svc.GetLatestSymbol(ctx, symbol)
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "cryptocurrency "+symbol+" not found")
		return
	}
	if err != nil {
		a.fail(w, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "data": rec, "timestamp": a.timestamp()})
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	ctx, cancel := a.ctx(r)
	defer cancel()
	h, err := a.svc.GetHistory(ctx, r.PathValue("symbol"), hours)
	if err != nil {
		a.fail(w, "get history", err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type analyticsResponse struct {
	TotalMarketCap float64                  `json:"total_market_cap"`
	TotalVolume24h float64                  `json:"total_volume_24h"`
	Count          int                      `json:"crypto_count"`
	TopGainers     []record.CanonicalRecord `json:"top_gainers"`
	TopLosers      []record.CanonicalRecord `json:"top_losers"`
	Timestamp      string                   `json:"timestamp"`
}

func (a *api) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	m, err := a.svc.GetMarketAnalytics(ctx)
	if errors.Is(err, query.ErrNoData) {
		writeError(w, http.StatusNotFound, "no market data available")
		return
	}
	if err != nil {
		a.fail(w, "market analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, analyticsResponse{
		TotalMarketCap: m.TotalMarketCap,
		TotalVolume24h: m.TotalVolume24h,
		Count:          m.Count,
		TopGainers:     m.TopGainers,
		TopLosers:      m.TopLosers,
		Timestamp:      a.timestamp(),
	})
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	job := a.svc.RefreshCache(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":   "cache refresh initiated",
		"job_id":    job.ID,
		"timestamp": a.timestamp(),
	})
}

type predictBody struct {
	Symbol         string                   `json:"symbol"`
	HistoricalData []record.CanonicalRecord `json:"historical_data"`
}

func (a *api) handlePredict(w http.ResponseWriter, r *http.Request) {
	if a.predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "ML service not available")
		return
	}
	var b predictBody
	dec := sonic.ConfigStd.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b.Symbol = strings.ToUpper(strings.TrimSpace(b.Symbol))
	if b.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()

	history := b.HistoricalData
	if len(history) == 0 {
		h, err := a.svc.GetHistory(ctx, b.Symbol, query.DefaultHours)
		if err != nil {
			a.fail(w, "predict history", err)
			return
		}
		history = slices.Clone(h.Records)
		slices.Reverse(history)
	}
	p, err := a.predictor.Predict(ctx, b.Symbol, history)
	if errors.Is(err, predict.ErrUnavailable) {
		a.logger.Warn("prediction unavailable", "symbol", b.Symbol, "err", err)
		writeError(w, http.StatusServiceUnavailable, "ML service not available")
		return
	}
	if err != nil {
		a.fail(w, "predict", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) fail(w http.ResponseWriter, op string, err error) {
	a.logger.Error(op+" failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	enc := sonic.ConfigStd.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
