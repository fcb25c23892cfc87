// Package logger builds the process slog.Logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Mode uint8

const (
	ModeDev Mode = iota
	ModeProd
	ModeSilent
)

// ParseMode accepts dev, prod or silent; empty means dev.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dev":
		return ModeDev, nil
	case "prod":
		return ModeProd, nil
	case "silent":
		return ModeSilent, nil
	}
	return ModeDev, fmt.Errorf("unknown log mode %q", s)
}

func New(mode Mode) *slog.Logger {
	return slog.New(buildHandler(mode, os.Stderr, os.Stdout))
}

func buildHandler(mode Mode, devOut, prodOut io.Writer) slog.Handler {
	switch mode {
	case ModeProd:
		// JSON on stdout for the log shipper
		return slog.NewJSONHandler(prodOut, &slog.HandlerOptions{Level: slog.LevelInfo})
	case ModeSilent:
		return slog.NewTextHandler(io.Discard, nil)
	default:
		return slog.NewTextHandler(devOut, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
}
