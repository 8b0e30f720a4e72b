// Package log wires the service's structured loggers. Every subsystem logger
// writes through one backend that tees to stdout and, once Run has been
// called, to a size-rotated log file.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/jrick/logrotate/rotator"
)

var (
	logRotator atomic.Pointer[rotator.Rotator]
	level      = new(slog.LevelVar)
	backend    = slog.NewTextHandler(logWriter{}, &slog.HandlerOptions{Level: level})
)

// logWriter implements an io.Writer that outputs to both standard output and
// the log rotator, if one is running.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if r := logRotator.Load(); r != nil {
		r.Write(p)
	}
	return len(p), nil
}

// Run starts writing logs to logFile, rolling it every 10 MiB and keeping 30
// old files. An empty logFile keeps stdout only.
func Run(logFile string, lvl string) error {
	SetLevel(lvl)
	if logFile == "" {
		return nil
	}

	if dir := filepath.Dir(logFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	r, err := rotator.New(logFile, 10*1024, false, 30)
	if err != nil {
		return fmt.Errorf("create file rotator: %w", err)
	}
	if old := logRotator.Swap(r); old != nil {
		old.Close()
	}
	return nil
}

// Close flushes and closes the log file. Call it on shutdown.
func Close() {
	if r := logRotator.Swap(nil); r != nil {
		r.Close()
	}
}

// SetLevel accepts debug, info, warn or error. Anything else means info.
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug", "trace":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error", "critical":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// New returns the logger for one subsystem, e.g. log.New("VRFY").
func New(subsystem string) *slog.Logger {
	return slog.New(backend).With("subsystem", subsystem)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
