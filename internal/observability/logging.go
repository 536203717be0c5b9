// Package observability provides logging setup for all components.
package observability

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger.
// Level is one of trace, debug, info, warn, error. Format is
// "console" for human-readable output or "json" for structured logs.
func SetupLogging(level, format string, output io.Writer) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" || format == "text" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Caller().Logger()
}

// Logger returns a child logger tagged with the component name.
func Logger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// sensitiveKeys are substrings of field names whose values must not
// reach the logs.
var sensitiveKeys = []string{
	"password", "secret", "token", "api_key", "apikey", "credential",
}

// SanitizeForLog masks values for fields with sensitive names.
func SanitizeForLog(key, value string) string {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			if len(value) == 0 {
				return ""
			}
			return "***"
		}
	}
	return value
}
