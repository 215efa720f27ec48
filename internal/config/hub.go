package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type HubConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// PostgresDSN and RedisAddr pick the history backend. Postgres wins when
	// both are set; neither keeps history in memory.
	PostgresDSN   string `env:"POSTGRES_DSN"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	HistoryLimit int           `env:"HISTORY_LIMIT" envDefault:"100"`
	HistoryTTL   time.Duration `env:"HISTORY_TTL" envDefault:"24h"`
	PruneEvery   time.Duration `env:"HISTORY_PRUNE_EVERY" envDefault:"10m"`

	AllowClients []string `env:"ALLOW_CLIENTS" envSeparator:","`
	JournalSize  int      `env:"JOURNAL_SIZE" envDefault:"500"`
	AdminAPIKey  string   `env:"ADMIN_API_KEY"`
}

func LoadHub() (HubConfig, error) {
	var cfg HubConfig
	err := env.Parse(&cfg)
	return cfg, err
}
