package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// EngineConfig tunes a room session. Zero values fall back to the engine
// defaults.
type EngineConfig struct {
	ReconnectDebounce time.Duration `env:"ROOM_RECONNECT_DEBOUNCE" envDefault:"5s"`
	HistoryPageSize   int           `env:"ROOM_HISTORY_PAGE_SIZE" envDefault:"100"`
	StaleAfter        time.Duration `env:"ROOM_STALE_AFTER" envDefault:"1h"`
	MaxPayloadBytes   int           `env:"ROOM_MAX_PAYLOAD_BYTES" envDefault:"60000"`
	LeaveOnKick       bool          `env:"ROOM_LEAVE_ON_KICK" envDefault:"true"`
}

func LoadEngine() (EngineConfig, error) {
	var cfg EngineConfig
	err := env.Parse(&cfg)
	return cfg, err
}
