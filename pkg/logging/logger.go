// Package logging configures structured logging for the decision engine
// binaries. Zerolog carries the process-wide log stream; slog handles are
// derived from it for packages that take a *slog.Logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// Setup configures the global zerolog logger. Pretty selects the console
// writer for interactive use; the default is line-delimited JSON on stdout.
func Setup(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// NewLogger returns a slog handle honoring the configured level, for
// components that log through log/slog.
func NewLogger(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug", "trace":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error", "fatal":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Pretty {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
