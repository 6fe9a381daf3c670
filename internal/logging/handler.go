// Package logging configures the process-wide slog logger.
//
// Format "pretty" writes colorized, human-readable lines through tint,
// "json" writes one JSON object per line, and "auto" picks pretty when the
// output is a terminal.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Output formats.
const (
	FormatAuto   = "auto"
	FormatPretty = "pretty"
	FormatJSON   = "json"
)

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewHandler builds a handler for out. isTTY decides what "auto" means.
func NewHandler(out io.Writer, level slog.Level, format string, isTTY bool) slog.Handler {
	format = strings.ToLower(format)
	if format == "" || format == FormatAuto {
		format = FormatJSON
		if isTTY {
			format = FormatPretty
		}
	}

	if format == FormatPretty {
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTTY,
		})
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
}

// Setup installs the default logger writing to stdout.
func Setup(level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	slog.SetDefault(slog.New(NewHandler(os.Stdout, lvl, format, isTTY)))
	return nil
}
