// Package logger builds the zerolog root logger that every component
// logger in the service is derived from.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the root logger's verbosity and output format.
type Config struct {
	Level  string // debug, info, warn or error
	Pretty bool   // human-readable console output for dev mode
}

// New builds the root logger. Level parsing is forgiving: an empty or
// unknown level falls back to info instead of failing startup.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).With().Timestamp().Caller().Logger()
}

// SetGlobalLogger routes zerolog's package-level logger through l so
// code logging via log.Logger lands in the same stream.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
