// Package logging builds the process-wide zerolog.Logger. The logger is
// constructed once in main and passed down by value to every subsystem
// constructor rather than read from a package global.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a Logger. In development (nodeEnv != "production") output
// goes through zerolog's console writer for human-readable lines; in
// production it emits one JSON object per line, matching the split the
// rest of the retrieved pack uses between local dev and deployed services.
func New(nodeEnv, component string) zerolog.Logger {
	var writer zerolog.ConsoleWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	var base zerolog.Logger
	if nodeEnv == "production" {
		base = zerolog.New(os.Stderr)
	} else {
		base = zerolog.New(writer)
	}

	return base.With().Timestamp().Str("component", component).Logger()
}
