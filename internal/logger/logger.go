package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

func New() zerolog.Logger {
	return build(os.Stdout, zerolog.DebugLevel)
}

// NewConsole is used by the CLI, whose stdout carries command output.
func NewConsole() zerolog.Logger {
	return build(zerolog.ConsoleWriter{Out: os.Stderr}, zerolog.WarnLevel)
}

func build(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger().
		Level(level)
}

// WithLevel applies a LOG_LEVEL string; unknown levels keep the current one.
func WithLevel(logger zerolog.Logger, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logger.Warn().Str("level", level).Msg("unknown log level, keeping default")
		return logger
	}
	return logger.Level(lvl)
}
