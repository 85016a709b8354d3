package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, 60*time.Second, cfg.Producer.Interval())
	require.Equal(t, 300*time.Second, cfg.Cache.TTL())
	require.Equal(t, 1000, cfg.Cache.WindowCap)
}

func TestLoad_FileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"producer": {"interval_sec": 30},
		"cache": {"backend": "redis", "ttl_sec": 120, "window_cap": 500},
		"source": {"asset_ids": ["bitcoin"]}
	}`), 0o600))
	t.Setenv("FETCH_INTERVAL", "15")
	t.Setenv("ASSET_IDS", "bitcoin, ethereum ,")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("WINDOW_CAP", "-1")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 15, cfg.Producer.IntervalSec)
	require.Equal(t, "redis", cfg.Cache.Backend)
	require.Equal(t, 120*time.Second, cfg.Cache.TTL())
	require.Equal(t, 500, cfg.Cache.WindowCap, "invalid env values are ignored")
	require.Equal(t, []string{"bitcoin", "ethereum"}, cfg.Source.AssetIDs)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, 10*time.Second, cfg.Producer.FetchTimeout(), "unset fields keep defaults")
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "dynamodb")
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "store.backend")
}

func TestLoad_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "parse config")
}
