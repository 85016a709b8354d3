package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	require.Equal(t, slog.LevelInfo, ParseLevel("loud"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewWriter_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn", "json")
	log.Info("dropped")
	log.Warn("kept", "symbol", "BTC")

	var line map[string]any
	require.NoError(t, sonic.ConfigStd.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "kept", line["msg"])
	require.Equal(t, "BTC", line["symbol"])
}
