package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns the process-wide structured logger.
func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
