package config

import (
	"testing"
	"time"
)

func TestLoadPushDefaults(t *testing.T) {
	cfg, err := LoadPush()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Enabled || cfg.Workers != 4 || cfg.RetryMax != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RetryBase != 500*time.Millisecond || cfg.CircuitOpen != 30*time.Second {
		t.Fatalf("unexpected durations %+v", cfg)
	}
}

func TestLoadPushFromEnv(t *testing.T) {
	t.Setenv("PUSH_ENABLED", "true")
	t.Setenv("PUSH_WORKERS", "2")
	t.Setenv("PUSH_TARGETS_JSON", `[{"platform":"webhook"}]`)
	cfg, err := LoadPush()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Enabled || cfg.Workers != 2 || cfg.ConfigJSON == "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
