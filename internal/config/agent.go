package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type AgentConfig struct {
	WSURL      string        `env:"WS_URL" envDefault:"ws://localhost:8080/ws"`
	ClientID   string        `env:"CLIENT_ID" envDefault:"agent"`
	Room       string        `env:"ROOM" envDefault:"lobby"`
	Name       string        `env:"NAME"`
	Type       string        `env:"PARTICIPANT_TYPE" envDefault:"guest"`
	Components []string      `env:"COMPONENTS" envSeparator:"," envDefault:"presence"`
	WriteEvery time.Duration `env:"WRITE_EVERY" envDefault:"0s"`
	Engine     EngineConfig
}

func LoadAgent() (AgentConfig, error) {
	var cfg AgentConfig
	err := env.Parse(&cfg)
	return cfg, err
}
