// Package logging builds the zerolog logger shared by the server and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to stderr. format is "json" or "console".
// An unparsable level falls back to info and is reported in the returned error.
func New(level, format string) (zerolog.Logger, error) {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) (zerolog.Logger, error) {
	var err error
	lvl, perr := zerolog.ParseLevel(level)
	switch {
	case perr != nil:
		err = fmt.Errorf("invalid log level %q: %w", level, perr)
		lvl = zerolog.InfoLevel
	case lvl == zerolog.NoLevel:
		err = fmt.Errorf("invalid log level %q", level)
		lvl = zerolog.InfoLevel
	}

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "tgforwarder").Logger(), err
}
