package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"marketpipe/internal/cache"
	"marketpipe/internal/coldstore"
	"marketpipe/internal/config"
	"marketpipe/internal/httpx"
	"marketpipe/internal/predict"
	"marketpipe/internal/processor"
	"marketpipe/internal/producer"
	"marketpipe/internal/query"
	"marketpipe/internal/source"
	"marketpipe/internal/source/coingecko"
	"marketpipe/internal/source/ratelimit"
	"marketpipe/internal/store"
	"marketpipe/internal/stream"
)

// app holds the wired components of the all-in-one process.
type app struct {
	producer  *producer.Producer
	processor *processor.Processor
	consumer  stream.Consumer
	api       *api

	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func newSource(cfg config.Config) (source.Source, []string) {
	client := coingecko.New(
		coingecko.WithBaseURL(cfg.Source.BaseURL),
		coingecko.WithHTTPClient(httpx.New(time.Duration(cfg.Source.TimeoutSec)*time.Second)),
		coingecko.WithAPIKey(cfg.Source.APIKey),
		coingecko.WithAssetIDs(cfg.Source.AssetIDs),
	)
	minInterval := time.Duration(cfg.Source.MinRequestIntervalSec) * time.Second
	return ratelimit.Wrap(client, cfg.Source.MaxRequestsPerMinute, cfg.Source.Burst, minInterval), source.Symbols(client.AssetIDs())
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	checks := map[string]func(context.Context) error{}

	var rdb *redis.Client
	if cfg.Stream.Backend == "redis" || cfg.Cache.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, rdb.Close)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var pub stream.Publisher
	switch cfg.Stream.Backend {
	case "redis":
		rs := stream.NewRedis(rdb, stream.RedisConfig{
			Stream:   cfg.Stream.Name,
			Group:    cfg.Stream.Group,
			Consumer: cfg.Stream.Consumer,
			MaxLen:   cfg.Stream.MaxLen,
			Block:    time.Duration(cfg.Stream.BlockMS) * time.Millisecond,
		})
		if err := rs.EnsureGroup(ctx); err != nil {
			return nil, err
		}
		pub, a.consumer = rs, rs
	default:
		ms := stream.NewMemory(cfg.Stream.Partitions, cfg.Stream.Capacity)
		a.closers = append(a.closers, func() error { ms.Close(); return nil })
		pub, a.consumer = ms, ms
	}

	var durable store.Durable
	switch cfg.Store.Backend {
	case "postgres":
		db, err := store.Open(store.Option{
			Host:       cfg.Store.Host,
			Port:       cfg.Store.Port,
			User:       cfg.Store.User,
			Password:   cfg.Store.Password,
			Database:   cfg.Store.Database,
			SSLMode:    cfg.Store.SSLMode,
			ConnString: cfg.Store.DSN,
		})
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgres(db)
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		checks["postgres"] = pg.Ping
		durable = pg
	default:
		durable = store.NewMemory()
	}

	var c cache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		c = cache.NewRedis(rdb, cfg.Cache.WindowCap)
	default:
		mc := cache.NewMemory(cfg.Cache.WindowCap)
		mc.MaxItems = cfg.Cache.MaxItems
		c = mc
	}

	var cold coldstore.Store
	switch cfg.ColdStore.Backend {
	case "fs":
		fs, err := coldstore.NewFS(cfg.ColdStore.Root)
		if err != nil {
			return nil, err
		}
		cold = fs
	case "memory":
		cold = coldstore.NewMemory()
	}

	src, symbols := newSource(cfg)

	p := producer.New(src, pub, logger.With("component", "producer"))
	p.Interval = cfg.Producer.Interval()
	p.FetchTimeout = cfg.Producer.FetchTimeout()
	p.PublishTimeout = cfg.Producer.PublishTimeout()
	p.MaxConsecutiveFailures = cfg.Producer.MaxConsecutiveFailures
	p.Backoff = producer.DefaultBackoff(p.Interval)
	a.producer = p

	proc := processor.New(durable, c, cold, logger.With("component", "processor"))
	proc.TTL = cfg.Cache.TTL()
	proc.Workers = cfg.Stream.Workers
	proc.BatchSize = cfg.Stream.BatchSize
	a.processor = proc

	svc := query.New(c, durable, logger.With("component", "query"))
	svc.Symbols = symbols
	svc.Source = src
	svc.Applier = proc

	var predictor *predict.Client
	if cfg.Predict.Endpoint != "" {
		predictor = predict.New(cfg.Predict.Endpoint, httpx.New(time.Duration(cfg.Predict.TimeoutSec)*time.Second))
	}

	a.api = &api{
		svc:       svc,
		predictor: predictor,
		logger:    logger.With("component", "http"),
		timeout:   cfg.Server.RequestTimeout(),
		checks:    checks,
	}
	if a.api.timeout <= 0 {
		return nil, errors.New("server.request_timeout_sec must be positive")
	}
	return a, nil
}
