package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the log destination and format.
type Config struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`

	// Format is text or json.
	Format string `yaml:"format" env:"FORMAT"`

	// File, when set, receives logs instead of stderr.
	File string `yaml:"file" env:"FILE"`

	// MaxSizeMB rotates File at this size.
	MaxSizeMB int `yaml:"max_size_mb" env:"MAX_SIZE_MB"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups" env:"MAX_BACKUPS"`
}

// DefaultConfig returns text logs at warn level on stderr.
func DefaultConfig() Config {
	return Config{Level: "warn", Format: "text", MaxSizeMB: 10, MaxBackups: 3}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a redacting logger. The returned closer releases the log
// file and is never nil.
func New(cfg Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		maxSize := int64(cfg.MaxSizeMB) * 1024 * 1024
		if maxSize <= 0 {
			maxSize = 10 * 1024 * 1024
		}
		rf, err := NewRotatingFile(cfg.File, maxSize, cfg.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		out, closer = rf, rf
	}
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(out, opts)
	case "", "text":
		h = slog.NewTextHandler(out, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(NewRedactingHandler(h)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
