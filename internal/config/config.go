package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Source struct {
	BaseURL               string   `json:"base_url"`
	APIKey                string   `json:"api_key"`
	AssetIDs              []string `json:"asset_ids"`
	TimeoutSec            int      `json:"timeout_sec"`
	MaxRequestsPerMinute  int      `json:"max_requests_per_minute"`
	MinRequestIntervalSec int      `json:"min_request_interval_sec"`
	Burst                 int      `json:"burst"`
}

type Producer struct {
	Enabled                bool `json:"enabled"`
	IntervalSec            int  `json:"interval_sec"`
	FetchTimeoutSec        int  `json:"fetch_timeout_sec"`
	PublishTimeoutSec      int  `json:"publish_timeout_sec"`
	MaxConsecutiveFailures int  `json:"max_consecutive_failures"`
}

type Stream struct {
	// Backend is "memory" or "redis".
	Backend    string `json:"backend"`
	Partitions int    `json:"partitions"`
	Capacity   int    `json:"capacity"`
	Name       string `json:"name"`
	Group      string `json:"group"`
	Consumer   string `json:"consumer"`
	MaxLen     int64  `json:"max_len"`
	BlockMS    int    `json:"block_ms"`
	BatchSize  int    `json:"batch_size"`
	Workers    int    `json:"workers"`
}

type Redis struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type Store struct {
	// Backend is "memory" or "postgres".
	Backend  string `json:"backend"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

type Cache struct {
	// Backend is "memory" or "redis".
	Backend   string `json:"backend"`
	TTLSec    int    `json:"ttl_sec"`
	WindowCap int    `json:"window_cap"`
	MaxItems  int    `json:"max_items"`
}

type ColdStore struct {
	// Backend is "fs", "memory" or "none".
	Backend string `json:"backend"`
	Root    string `json:"root"`
}

type Predict struct {
	Endpoint   string `json:"endpoint"`
	TimeoutSec int    `json:"timeout_sec"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type Config struct {
	Server    Server    `json:"server"`
	Source    Source    `json:"source"`
	Producer  Producer  `json:"producer"`
	Stream    Stream    `json:"stream"`
	Redis     Redis     `json:"redis"`
	Store     Store     `json:"store"`
	Cache     Cache     `json:"cache"`
	ColdStore ColdStore `json:"cold_store"`
	Predict   Predict   `json:"predict"`
	Log       Log       `json:"log"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		Source: Source{
			BaseURL:              "https://api.coingecko.com/api/v3",
			TimeoutSec:           10,
			MaxRequestsPerMinute: 30,
			Burst:                1,
		},
		Producer: Producer{
			Enabled:           true,
			IntervalSec:       60,
			FetchTimeoutSec:   10,
			PublishTimeoutSec: 10,
		},
		Stream: Stream{
			Backend:    "memory",
			Partitions: 8,
			Capacity:   1024,
			Name:       "crypto-price-stream",
			Group:      "processor",
			Consumer:   "processor-1",
			MaxLen:     100000,
			BlockMS:    5000,
			BatchSize:  100,
			Workers:    8,
		},
		Redis: Redis{Addr: "localhost:6379"},
		Store: Store{Backend: "memory", Host: "localhost", Port: 5432, Database: "marketpipe", SSLMode: "disable"},
		Cache: Cache{Backend: "memory", TTLSec: 300, WindowCap: 1000, MaxItems: 10000},
		ColdStore: ColdStore{
			Backend: "fs",
			Root:    "data",
		},
		Predict: Predict{TimeoutSec: 10},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads JSON config from path. If path is empty, CONFIG_FILE and then
// ./config.json are tried; a missing file yields defaults. Environment
// variables override select fields, secrets in particular.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// Validate rejects unknown backends and non-positive core settings.
func (c Config) Validate() error {
	var errs []error
	oneOf := func(field, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("config: %s %q not one of %v", field, v, allowed))
	}
	oneOf("stream.backend", c.Stream.Backend, "memory", "redis")
	oneOf("store.backend", c.Store.Backend, "memory", "postgres")
	oneOf("cache.backend", c.Cache.Backend, "memory", "redis")
	oneOf("cold_store.backend", c.ColdStore.Backend, "fs", "memory", "none")
	if c.Producer.IntervalSec <= 0 {
		errs = append(errs, errors.New("config: producer.interval_sec must be positive"))
	}
	if c.Cache.TTLSec <= 0 || c.Cache.WindowCap <= 0 {
		errs = append(errs, errors.New("config: cache.ttl_sec and cache.window_cap must be positive"))
	}
	return errors.Join(errs...)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (p Producer) Interval() time.Duration       { return seconds(p.IntervalSec) }
func (p Producer) FetchTimeout() time.Duration   { return seconds(p.FetchTimeoutSec) }
func (p Producer) PublishTimeout() time.Duration { return seconds(p.PublishTimeoutSec) }
func (c Cache) TTL() time.Duration               { return seconds(c.TTLSec) }
func (s Server) RequestTimeout() time.Duration   { return seconds(s.RequestTimeoutSec) }

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	envInt("REQUEST_TIMEOUT_SEC", 1, &cfg.Server.RequestTimeoutSec)

	if v := os.Getenv("COINGECKO_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.Source.APIKey = v
	}
	if v := os.Getenv("ASSET_IDS"); v != "" {
		cfg.Source.AssetIDs = splitCSV(v)
	}
	envInt("COINGECKO_MAX_RPM", 0, &cfg.Source.MaxRequestsPerMinute)
	envInt("COINGECKO_BURST", 1, &cfg.Source.Burst)
	envInt("COINGECKO_MIN_INTERVAL_SEC", 0, &cfg.Source.MinRequestIntervalSec)

	envBool("PRODUCER_ENABLED", &cfg.Producer.Enabled)
	envInt("FETCH_INTERVAL", 1, &cfg.Producer.IntervalSec)
	envInt("FETCH_TIMEOUT_SEC", 1, &cfg.Producer.FetchTimeoutSec)
	envInt("PUBLISH_TIMEOUT_SEC", 1, &cfg.Producer.PublishTimeoutSec)
	envInt("MAX_CONSECUTIVE_FAILURES", 0, &cfg.Producer.MaxConsecutiveFailures)

	if v := os.Getenv("STREAM_BACKEND"); v != "" {
		cfg.Stream.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("STREAM_NAME"); v != "" {
		cfg.Stream.Name = v
	}
	if v := os.Getenv("STREAM_CONSUMER"); v != "" {
		cfg.Stream.Consumer = v
	}
	envInt("STREAM_BATCH_SIZE", 1, &cfg.Stream.BatchSize)
	envInt("PROCESSOR_WORKERS", 1, &cfg.Stream.Workers)

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	envInt("REDIS_DB", 0, &cfg.Redis.DB)

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}

	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	envInt("CACHE_TTL_SEC", 1, &cfg.Cache.TTLSec)
	envInt("WINDOW_CAP", 1, &cfg.Cache.WindowCap)

	if v := os.Getenv("COLD_STORE_BACKEND"); v != "" {
		cfg.ColdStore.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("COLD_STORE_ROOT"); v != "" {
		cfg.ColdStore.Root = v
	}

	if v := os.Getenv("PREDICT_ENDPOINT"); v != "" {
		cfg.Predict.Endpoint = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// envInt sets *dst from key when it parses and is at least floor.
func envInt(key string, floor int, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && x >= floor {
		*dst = x
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
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
