// Package logging builds the charmbracelet/log logger handed to every
// Connection and Transport, so the whole client logs through one
// configured sink instead of each package reaching for its own.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Options configures the logger returned by New.
type Options struct {
	Level      string // debug, info, warn, error
	ReportTime bool
	FilePath   string // optional; empty means stderr
}

// New builds a *log.Logger per opts. Callers are responsible for closing
// the returned io.Closer (nil when logging to stderr) once done.
func New(opts Options) (*log.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer

	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", opts.FilePath, err)
		}
		out = f
		closer = f
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: opts.ReportTime,
		ReportCaller:    opts.Level == "debug",
	})
	logger.SetLevel(parseLevel(opts.Level))

	return logger, closer, nil
}

func parseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
