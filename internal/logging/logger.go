// Package logging builds the zerolog loggers handed to every tractools
// component. Verbosity is decided once, by the caller, and carried by the
// returned logger; nothing here touches zerolog's global level.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Verbose enables debug level output.
	Verbose bool
	// Console forces the human readable console writer. When false the
	// writer is chosen from whether the destination is a terminal.
	Console bool
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) zerolog.Logger {
	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	out := w
	if opts.Console || isTerminal(w) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
