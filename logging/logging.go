// Package logging builds the zerolog loggers used by the front end and the worker.
//
// The front end owns the terminal, so it logs to a file. The worker logs JSON
// to stderr; the supervisor reads those lines back into its own log.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel accepts zerolog level names; "" means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// New returns a timestamped JSON logger writing to w at level.
func New(w io.Writer, level string) (zerolog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return zerolog.New(w).Level(l).With().Timestamp().Logger(), nil
}

// NewFile opens (appending) the log file at path, or DefaultPath when path is
// empty, and returns a logger writing to it. Close the returned file on exit.
func NewFile(path, level string) (zerolog.Logger, io.Closer, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("opening log file: %w", err)
	}
	log, err := New(f, level)
	if err != nil {
		_ = f.Close()
		return zerolog.Nop(), nil, err
	}
	return log, f, nil
}

// NewConsole returns a human-readable logger on w, for interactive commands.
func NewConsole(w io.Writer, level string) (zerolog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(l).With().Timestamp().Logger(), nil
}

// DefaultPath is $XDG_STATE_HOME/workerlink/workerlink.log, falling back to
// ~/.local/state and then the temp directory.
func DefaultPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "workerlink", "workerlink.log")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "workerlink", "workerlink.log")
	}
	return filepath.Join(os.TempDir(), "workerlink.log")
}
