// Package logging configures the process-wide zerolog logger.
// Components obtain a sub-logger via Component so every line carries a
// component field for filtering.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls logger behavior.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// FilePath, when set, appends JSON log lines to this file in addition to
	// the console writer.
	FilePath string

	// Console enables the human-readable console writer on stderr.
	Console bool
}

// Setup initializes the global zerolog logger and returns it.
func Setup(cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger
	return logger, nil
}

// Component returns a sub-logger tagged with the given component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
