// Package logging constructs the process-wide structured logger.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger from the LOG_LEVEL/LOG_FORMAT settings.
// format "console" writes human-readable colorized output; anything
// else (including the default "json") writes newline-delimited JSON.
func New(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var writer = os.Stderr
	if strings.EqualFold(format, "console") {
		return zerolog.New(zerolog.ConsoleWriter{Out: writer}).
			Level(lvl).
			With().Timestamp().Logger()
	}

	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
