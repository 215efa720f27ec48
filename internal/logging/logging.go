// Package logging configures the global zerolog logger from LogConfig.
package logging

import (
	"io"
	"os"
	"strings"

	"realtime-room/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var output io.Writer = os.Stdout

// Writer returns the sink Init configured, for loggers other than zerolog.
func Writer() io.Writer { return output }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init installs the global logger. The returned closer releases the log file,
// if one was configured.
func Init(cfg config.LogConfig) (io.Closer, error) {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var sink io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		fw, err := newRotatingWriter(cfg.File, cfg.MaxMB)
		if err != nil {
			return nil, err
		}
		sink = io.MultiWriter(os.Stdout, fw)
		closer = fw
	}
	output = sink

	var zout io.Writer = sink
	if cfg.Pretty {
		zout = zerolog.ConsoleWriter{Out: sink}
	}

	zerolog.SetGlobalLevel(level)
	ctx := zerolog.New(zout).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger
	return closer, nil
}
