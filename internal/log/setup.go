// Package log configures the process-wide zerolog logger and provides a
// progress reporter for long-running CLI commands.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Config selects level and output format.
type Config struct {
	Level  string
	Format string // auto, console or json
}

// Setup configures log.Logger and the global level. Output goes to stderr.
func Setup(cfg Config) (zerolog.Logger, error) {
	return SetupWriter(cfg, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

// SetupWriter is Setup with an explicit writer; tty decides the auto format.
func SetupWriter(cfg Config, w io.Writer, tty bool) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	switch cfg.Format {
	case "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	case "", "auto":
		if tty {
			out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
		}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", cfg.Format)
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}
