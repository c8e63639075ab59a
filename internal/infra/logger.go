package infra

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging contract handed to every component.
type Logger = zerolog.Logger

// NewLogger builds the process logger. Development writes human readable
// console output at debug level; every other environment writes JSON lines
// at info. LOG_LEVEL overrides the level in both cases.
func NewLogger(appEnv string) Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("env", appEnv).
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}

// Component returns a child logger tagged with the component name, the way
// gateway, relay and workflow entries are told apart in aggregated logs.
func Component(logger Logger, name string) *Logger {
	l := logger.With().Str("component", name).Logger()
	return &l
}
