package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StatPeriodDays != 180 {
		t.Errorf("StatPeriodDays = %d, want 180", cfg.StatPeriodDays)
	}
	if cfg.StatTTL != 12*time.Hour {
		t.Errorf("StatTTL = %v, want 12h", cfg.StatTTL)
	}
	if cfg.RetentionDays != 360 || cfg.MaxDays != 90 {
		t.Errorf("retention/bound defaults wrong: %d, %v", cfg.RetentionDays, cfg.MaxDays)
	}
	if cfg.IngestPages != 3 || cfg.BootstrapPages != 5 || cfg.MaxPages != 50 {
		t.Errorf("page defaults wrong: %d %d %d", cfg.IngestPages, cfg.BootstrapPages, cfg.MaxPages)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEAD_STAT_DAYS", "90")
	t.Setenv("LEAD_INGEST_INTERVAL", "5m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StatPeriodDays != 90 || cfg.IngestInterval != 5*time.Minute {
		t.Errorf("overrides not applied: %d %v", cfg.StatPeriodDays, cfg.IngestInterval)
	}
}

func TestWatchList_ParsesTokensAndAliases(t *testing.T) {
	cfg := &Config{WatchSKU: "101, 202:red widget\n101 303:x, bogus, 0"}
	got := cfg.WatchList()
	want := []int64{101, 202, 303}
	if len(got) != len(want) {
		t.Fatalf("WatchList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("WatchList[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestWatchList_Empty(t *testing.T) {
	cfg := &Config{}
	if got := cfg.WatchList(); len(got) != 0 {
		t.Errorf("WatchList = %v, want empty", got)
	}
}
