// Package logging installs the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options selects the level and destinations of log output.
type Options struct {
	Level string    // debug, info, warn or error
	File  string    // optional JSON log file, appended to
	Out   io.Writer // console destination, defaults to stderr
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// Setup makes a text handler on the console, fanned out to a JSON file
// handler when opts.File is set, the default logger. The returned function
// flushes and closes the log file.
func Setup(opts Options) (func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	console := slog.NewTextHandler(out, handlerOpts)

	if opts.File == "" {
		slog.SetDefault(slog.New(console))
		return func() {}, nil
	}

	logFile, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slogmulti.Fanout(console, slog.NewJSONHandler(logFile, handlerOpts))))

	return func() {
		_ = logFile.Sync()
		_ = logFile.Close()
	}, nil
}
