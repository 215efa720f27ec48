package config

import (
	"testing"
	"time"
)

func TestLoadEngineDefaults(t *testing.T) {
	cfg, err := LoadEngine()
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	if cfg.ReconnectDebounce != 5*time.Second {
		t.Fatalf("ReconnectDebounce = %v, want 5s", cfg.ReconnectDebounce)
	}
	if cfg.StaleAfter != time.Hour {
		t.Fatalf("StaleAfter = %v, want 1h", cfg.StaleAfter)
	}
	if cfg.MaxPayloadBytes != 60000 || cfg.HistoryPageSize != 100 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if !cfg.LeaveOnKick {
		t.Fatal("LeaveOnKick = false, want true")
	}
}

func TestLoadEngineOverrides(t *testing.T) {
	t.Setenv("ROOM_MAX_PAYLOAD_BYTES", "1024")
	t.Setenv("ROOM_LEAVE_ON_KICK", "false")

	cfg, err := LoadEngine()
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	if cfg.MaxPayloadBytes != 1024 || cfg.LeaveOnKick {
		t.Fatalf("unexpected engine config: %+v", cfg)
	}
}
