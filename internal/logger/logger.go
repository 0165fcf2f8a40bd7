package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ChannelSecurity tags log lines that describe tampering or bot signals so they
// can be routed and queried separately from ordinary request errors.
const ChannelSecurity = "security"

// Setup initializes the global zerolog logger based on environment configuration.
//   - level: log level string (trace, debug, info, warn, error, fatal, panic)
//   - format: "json" for production, "pretty" for human-readable dev output
//
// Returns the configured logger instance.
func Setup(level, format string) zerolog.Logger {
	return New(os.Stdout, level, format)
}

// New builds a logger writing to w. Tests pass a buffer here.
func New(w io.Writer, level, format string) zerolog.Logger {
	writer := w
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Security derives the security-event logger from log.
func Security(log zerolog.Logger) zerolog.Logger {
	return log.With().Str("channel", ChannelSecurity).Logger()
}
