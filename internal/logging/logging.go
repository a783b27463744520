// Package logging constructs the daemon's single structured logger. It is
// constructed once at startup and threaded explicitly through the owning
// root (design notes: "global mutable state -> owned root"); nothing in
// this repository keeps a package-level logger.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the concrete logger type threaded through the daemon.
type Logger = logiface.Logger[*izerolog.Event]

// Config controls how the root logger is constructed.
type Config struct {
	// Level is one of "debug2", "debug", "info", "warn", "error".
	Level string
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty enables zerolog's human-readable console writer (dev mode).
	Pretty bool
}

// New builds the daemon's root logger per Config.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}
	zl := zerolog.New(out).With().Timestamp().Logger()

	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel(levelFromString(cfg.Level)),
	)
}

func levelFromString(s string) logiface.Level {
	switch s {
	case "debug2":
		return logiface.LevelTrace
	case "debug":
		return logiface.LevelDebug
	case "warn", "warning":
		return logiface.LevelWarning
	case "error":
		return logiface.LevelError
	case "info", "":
		fallthrough
	default:
		return logiface.LevelInformational
	}
}
