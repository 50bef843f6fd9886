package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. Pretty output is meant for local
// runs; production stays on plain JSON lines.
func New(pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if pretty {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
		return zerolog.New(output).With().Timestamp().Caller().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
