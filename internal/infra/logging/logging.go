// Package logging builds the structured zerolog loggers used across the gateway.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB = 100
	componentField   = "component"
)

// Options controls logger construction.
type Options struct {
	Level      string
	Format     string
	Output     string
	MaxAgeDays int
}

// New returns a root logger writing to the configured output. Output is stdout,
// stderr, or a file path rotated by lumberjack.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if text := strings.TrimSpace(opts.Level); text != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(text))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out, err := openOutput(opts.Output, opts.MaxAgeDays)
	if err != nil {
		return zerolog.Nop(), err
	}

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", opts.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func openOutput(output string, maxAge int) (io.Writer, error) {
	switch strings.TrimSpace(output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	path := strings.TrimSpace(output)
	if maxAge > 0 {
		return &lumberjack.Logger{
			Filename: path,
			MaxAge:   maxAge,
			MaxSize:  defaultMaxSizeMB,
			Compress: true,
		}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return file, nil
}

// Component derives a child logger tagged with the component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str(componentField, strings.TrimSpace(name)).Logger()
}
