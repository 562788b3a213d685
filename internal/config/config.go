// Package config provides runtime configuration for the lead-time engine,
// collected from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every knob of the engine. Defaults match the behavior the
// rest of the system was tuned against.
type Config struct {
	// Upstream API.
	BaseURL  string `env:"LEAD_API_BASE_URL" envDefault:"https://api-seller.ozon.ru"`
	ClientID string `env:"OZON_CLIENT_ID"`
	APIKey   string `env:"OZON_API_KEY"`

	// Local cache files.
	DataDir string `env:"LEAD_DATA_DIR" envDefault:"data/cache/shipments"`

	// Statistics.
	StatPeriodDays int           `env:"LEAD_STAT_DAYS" envDefault:"180"`
	StatTTL        time.Duration `env:"LEAD_STAT_TTL" envDefault:"12h"`

	// Duration bound: observations outside [MinDays, MaxDays] are noise.
	MinDays float64 `env:"LEAD_MIN_DAYS" envDefault:"0"`
	MaxDays float64 `env:"LEAD_MAX_DAYS" envDefault:"90"`

	RetentionDays int `env:"LEAD_RETENTION_DAYS" envDefault:"360"`

	// Fetch limits per tick.
	FetchBatch      int `env:"LEAD_FETCH_BATCH" envDefault:"100"`
	GetBatch        int `env:"LEAD_GET_BATCH" envDefault:"50"`
	BundleMaxPerRun int `env:"LEAD_BUNDLE_MAX_PER_RUN" envDefault:"15"`
	IngestPages     int `env:"LEAD_INGEST_PAGES" envDefault:"3"`
	BootstrapPages  int `env:"LEAD_PRIMARY_PAGES" envDefault:"5"`
	MaxPages        int `env:"LEAD_MAX_PAGES" envDefault:"50"`

	// Tick scheduling.
	IngestInterval time.Duration `env:"LEAD_INGEST_INTERVAL" envDefault:"15m"`
	TickForce      bool          `env:"LEAD_TICK_FORCE"`
	StaleRunAfter  time.Duration `env:"LEAD_STALE_RUN_AFTER" envDefault:"30m"`

	// HTTP behavior.
	HTTPTimeout   time.Duration `env:"LEAD_HTTP_TIMEOUT" envDefault:"20s"`
	RetryAfterCap time.Duration `env:"LEAD_RETRY_AFTER_CAP" envDefault:"2500ms"`

	// WatchSKU filters and orders the per-SKU statistics views. Accepts
	// comma/space/newline separated tokens of the form "123" or "123:alias".
	WatchSKU string `env:"WATCH_SKU"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load collects configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{}); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// WatchAliases parses WatchSKU into a SKU → display alias map. Tokens
// without an alias contribute nothing.
func (c *Config) WatchAliases() map[int64]string {
	txt := strings.NewReplacer("\n", ",", " ", ",").Replace(c.WatchSKU)
	out := make(map[int64]string)
	for _, tok := range strings.Split(txt, ",") {
		left, alias, found := strings.Cut(strings.TrimSpace(tok), ":")
		if !found {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(left), 10, 64)
		alias = strings.TrimSpace(alias)
		if err != nil || v == 0 || alias == "" {
			continue
		}
		if _, dup := out[v]; !dup {
			out[v] = alias
		}
	}
	return out
}

// WatchList parses WatchSKU into an ordered, de-duplicated SKU list.
func (c *Config) WatchList() []int64 {
	txt := strings.NewReplacer("\n", ",", " ", ",").Replace(c.WatchSKU)
	var out []int64
	seen := make(map[int64]bool)
	for _, tok := range strings.Split(txt, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		left, _, _ := strings.Cut(tok, ":")
		v, err := strconv.ParseInt(strings.TrimSpace(left), 10, 64)
		if err != nil || v == 0 || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
