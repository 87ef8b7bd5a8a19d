// Package logging constructs the single process-wide zerolog.Logger used
// by this repository. There is no package-level logger singleton: every
// caller receives an explicit zerolog.Logger and threads it onward
// (spec.md §9's redesign flag on module-level lazy imports/singletons
// applies equally to logging).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stdout if nil). When w is
// a terminal, output is a human-friendly console writer; otherwise it is
// newline-delimited JSON, suitable for log aggregation from a CI runner.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var output io.Writer = w
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		output = zerolog.ConsoleWriter{Out: colorable.NewColorable(f), TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// LevelFromString parses a log level name, defaulting to info for an
// empty or unrecognized value.
func LevelFromString(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
