package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// PushConfig controls forwarding of room activity to webhook targets.
type PushConfig struct {
	Enabled          bool          `env:"PUSH_ENABLED" envDefault:"false"`
	ConfigPath       string        `env:"PUSH_CONFIG_PATH"`
	ConfigJSON       string        `env:"PUSH_TARGETS_JSON"`
	ConfigReload     time.Duration `env:"PUSH_CONFIG_RELOAD" envDefault:"1s"`
	Workers          int           `env:"PUSH_WORKERS" envDefault:"4"`
	RetryMax         int           `env:"PUSH_RETRY_MAX" envDefault:"3"`
	RetryBase        time.Duration `env:"PUSH_RETRY_BASE" envDefault:"500ms"`
	FailureThreshold int           `env:"PUSH_FAILURE_THRESHOLD" envDefault:"3"`
	CircuitOpen      time.Duration `env:"PUSH_CIRCUIT_OPEN" envDefault:"30s"`
	RequestTimeout   time.Duration `env:"PUSH_REQUEST_TIMEOUT" envDefault:"5s"`
}

func LoadPush() (PushConfig, error) {
	var cfg PushConfig
	err := env.Parse(&cfg)
	return cfg, err
}
