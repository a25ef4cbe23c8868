// Package dblog centralizes structured logging for the engine. Every
// subsystem gets a component-scoped child logger rather than writing to the
// global logger directly.
package dblog

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Init reconfigures it; components
// should call WithComponent rather than use it directly.
var Logger zerolog.Logger

// Level names accepted by Init, mirroring the flags accepted by the server
// binary.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls the base logger's verbosity and encoding.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init installs the base logger. It is safe to call more than once, e.g. once
// with defaults at package init and again after flags are parsed.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

func parseLevel(l Level) zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a child logger tagged with the subsystem name, e.g.
// "buffer", "btree", "planner".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithConn returns a child logger tagged with a server connection id.
func WithConn(connID string) zerolog.Logger {
	return Logger.With().Str("conn", connID).Logger()
}

func init() {
	Init(Config{Level: LevelInfo})
}
