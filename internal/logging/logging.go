// Package logging provides mender's logging infrastructure built on
// charmbracelet/log.
//
// It wraps charmbracelet/log in a centralized factory with component
// prefixes, level configuration, and stderr-only output. Stdout is reserved
// for the RunReport JSON emitted by the CLI.
//
// Setup must be called before New so that child loggers inherit the correct
// level and formatter; charmbracelet/log copies state at creation time and
// later changes to the default logger do not propagate to existing children.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Setup configures the global logging defaults. Call once during CLI or
// server initialization. If both verbose and quiet are set, quiet wins.
func Setup(verbose, quiet, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix. An empty component
// produces a logger without a prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger. Primarily
// useful in tests that capture output with a bytes.Buffer.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
