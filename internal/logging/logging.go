package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Development gets a human-readable console
// writer; everything else emits JSON with a service field for aggregation.
func New(env, service string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "dev" || env == "development" {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Str("service", service).Logger()
}
