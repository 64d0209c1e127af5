package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/animus-labs/release-registry/internal/platform/env"
)

// New builds the service logger. JSON is the default; RELEASES_LOG_FORMAT=text
// is meant for local runs.
func New(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(env.String("RELEASES_LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(env.String("RELEASES_LOG_FORMAT", "json"))); format {
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("RELEASES_LOG_FORMAT must be json or text (got %q)", format)
	}
	return slog.New(handler), nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
