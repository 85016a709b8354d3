package query

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketpipe/internal/aggregate"
	"marketpipe/internal/cache"
	"marketpipe/internal/processor"
	"marketpipe/internal/record"
	"marketpipe/internal/source"
	"marketpipe/internal/store"
)

var (
	// ErrNotFound is returned for a single symbol with no data in any tier.
	ErrNotFound = errors.New("query: symbol not found")
	ErrNoData   = aggregate.ErrNoData
)

const (
	DefaultHours = 24
	MaxHours     = 168

	SourceCache   = "cache"
	SourceDurable = "durable"
)

// Applier writes one record through the processing path.
type Applier interface {
	Apply(ctx context.Context, rec record.CanonicalRecord) processor.Outcome
}

// History is a symbol's records over the last Hours, most recent first.
type History struct {
	Symbol  string                   `json:"symbol"`
	Hours   int                      `json:"hours"`
	Source  string                   `json:"source"`
	Records []record.CanonicalRecord `json:"data"`
}

// Service answers reads from the cache tier first and the durable store
// second. Cache may be nil.
type Service struct {
	Cache   cache.Cache
	Durable store.Durable
	// Source and Applier back RefreshCache.
	Source  source.Source
	Applier Applier
	// Symbols is the tracked set used when a read names none.
	Symbols []string
	Logger  *slog.Logger
	Now     func() time.Time
	// Parallel bounds per-symbol lookups in GetLatest.
	Parallel       int
	RefreshTimeout time.Duration
	Tag            string

	mu      sync.Mutex
	running *RefreshJob
}

func New(c cache.Cache, durable store.Durable, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Cache:          c,
		Durable:        durable,
		Symbols:        source.Symbols(source.DefaultAssetIDs),
		Logger:         logger,
		Now:            time.Now,
		Parallel:       8,
		RefreshTimeout: 30 * time.Second,
		Tag:            record.SourceCoinGecko,
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) tracked() []string {
	if len(s.Symbols) == 0 {
		return source.Symbols(source.DefaultAssetIDs)
	}
	return s.Symbols
}

// latest resolves one symbol: cache, then durable store. Backend errors are
// logged and treated as a miss.
func (s *Service) latest(ctx context.Context, symbol string) (record.CanonicalRecord, bool) {
	log := s.logger().With("symbol", symbol)
	if s.Cache != nil {
		rec, ok, err := s.Cache.GetLatest(ctx, symbol)
		if err != nil {
			log.Warn("cache lookup failed", "err", err)
		} else if ok {
			return rec, true
		}
	}
	rec, ok, err := s.Durable.Latest(ctx, symbol)
	if err != nil {
		log.Error("durable lookup failed", "err", err)
		return record.CanonicalRecord{}, false
	}
	return rec, ok
}

// GetLatest returns the latest record per symbol, defaulting to the tracked
// set. Symbols with no data anywhere are absent from the result.
func (s *Service) GetLatest(ctx context.Context, symbols ...string) (map[string]record.CanonicalRecord, error) {
	if len(symbols) == 0 {
		symbols = s.tracked()
	}
	var (
		mu  sync.Mutex
		out = make(map[string]record.CanonicalRecord, len(symbols))
		g   errgroup.Group
	)
	if s.Parallel > 0 {
		g.SetLimit(s.Parallel)
	}
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		g.Go(func() error {
			rec, ok := s.latest(ctx, sym)
			if ok {
				mu.Lock()
				out[sym] = rec
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// GetLatestSymbol returns one symbol's latest record or ErrNotFound.
func (s *Service) GetLatestSymbol(ctx context.Context, symbol string) (record.CanonicalRecord, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return record.CanonicalRecord{}, ErrNotFound
	}
	rec, ok := s.latest(ctx, symbol)
	if !ok {
		if err := ctx.Err(); err != nil {
			return record.CanonicalRecord{}, err
		}
		return record.CanonicalRecord{}, ErrNotFound
	}
	return rec, nil
}

// ClampHours maps hours outside [1, MaxHours] to DefaultHours.
func ClampHours(hours int) int {
	if hours < 1 || hours > MaxHours {
		return DefaultHours
	}
	return hours
}

// GetHistory reads [now-hours, now] from the window, falling back to the
// durable store when the window is empty or unavailable.
func (s *Service) GetHistory(ctx context.Context, symbol string, hours int) (History, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	hours = ClampHours(hours)
	to := s.now()
	from := to.Add(-time.Duration(hours) * time.Hour)
	h := History{Symbol: symbol, Hours: hours}

	if s.Cache != nil {
		recs, err := s.Cache.Range(ctx, symbol, from, to, store.MaxRange)
		switch {
		case err != nil:
			s.logger().Warn("window range failed", "symbol", symbol, "err", err)
		case len(recs) > 0:
			h.Source, h.Records = SourceCache, recs
			return h, nil
		}
	}

	recs, err := s.Durable.Range(ctx, symbol, from, to, store.MaxRange)
	if err != nil {
		return h, err
	}
	h.Source = SourceDurable
	h.Records = recs
	if h.Records == nil {
		h.Records = []record.CanonicalRecord{}
	}
	return h, nil
}

// GetMarketAnalytics aggregates the latest records of the tracked set, in
// tracked order.
func (s *Service) GetMarketAnalytics(ctx context.Context) (aggregate.Analytics, error) {
	latest, err := s.GetLatest(ctx)
	if err != nil {
		return aggregate.Analytics{}, err
	}
	snap := make([]record.CanonicalRecord, 0, len(latest))
	for _, sym := range s.tracked() {
		if rec, ok := latest[sym]; ok {
			snap = append(snap, rec)
		}
	}
	return aggregate.Market(snap)
}
