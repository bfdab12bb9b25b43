// Package logging builds the zerolog loggers used across mini-varlink.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel = "VARLINK_LOG_LEVEL"
	EnvLogJSON  = "VARLINK_LOG_JSON"
)

// Config selects the level and output format.
type Config struct {
	Level string `toml:"level"` // trace, debug, info, warn, error, disabled
	JSON  bool   `toml:"json"`  // Plain JSON lines instead of the console writer
}

// New returns a logger tagged with app that writes to stderr. Environment variables
// override cfg.
func New(app string, cfg Config) zerolog.Logger {
	return NewWriter(os.Stderr, app, cfg)
}

// NewWriter is New with an explicit destination.
func NewWriter(out io.Writer, app string, cfg Config) zerolog.Logger {
	applyEnvOverrides(&cfg)

	level, ok := ParseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}
	// The package-wide floor defaults to debug; lower it when trace is asked for.
	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}

	w := out
	if !cfg.JSON {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", app).Logger()
}

// Nop returns a disabled logger.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// ParseLevel maps a level name to a zerolog level. The empty string is not a level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv(EnvLogLevel); raw != "" {
		if _, ok := ParseLevel(raw); ok {
			cfg.Level = raw
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvLogJSON)); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.JSON = v
		}
	}
}
