package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"marketpipe/internal/config"
	"marketpipe/internal/httpx"
	"marketpipe/internal/record"
	"marketpipe/internal/source/coingecko"
)

// fetch pulls one snapshot from CoinGecko, normalizes it and prints the
// canonical records as JSON. Nothing is published or stored.
func main() {
	var idsCSV string
	var timeout int
	var configPath string

	flag.StringVar(&idsCSV, "ids", os.Getenv("ASSET_IDS"), "comma-separated CoinGecko asset ids (default: tracked set)")
	flag.IntVar(&timeout, "timeout", 15, "request timeout seconds")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if ids := splitCSV(idsCSV); len(ids) > 0 {
		cfg.Source.AssetIDs = ids
	}

	client := coingecko.New(
		coingecko.WithBaseURL(cfg.Source.BaseURL),
		coingecko.WithHTTPClient(httpx.New(time.Duration(timeout)*time.Second)),
		coingecko.WithAPIKey(cfg.Source.APIKey),
		coingecko.WithAssetIDs(cfg.Source.AssetIDs),
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()
	raw, err := client.Fetch(ctx)
	if err != nil {
		log.Fatalf("fetch: %v", err)
	}

	recs, err := record.Normalize(raw, time.Now(), record.SourceCoinGecko)
	if err != nil {
		log.Printf("normalize: %v", err)
	}

	enc := sonic.ConfigStd.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"count": len(recs), "records": recs}); err != nil {
		log.Fatalf("encode: %v", err)
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
