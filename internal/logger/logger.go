package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config mirrors the logging section of the taskpilot configuration.
type Config struct {
	Level     string // debug, info, warn, error; anything else means info
	File      string // appended to when set
	Console   bool   // write to stderr
	Pretty    bool   // human readable stderr output
	Redaction bool   // scrub API keys and tokens
}

// Logger is the process logger. It owns the log file, if any.
type Logger struct {
	logger zerolog.Logger
	file   *os.File
}

// New builds a logger from cfg and installs it as log.Logger so packages
// that log through the global logger share its sinks.
func New(cfg Config) (*Logger, error) {
	file, err := openLogFile(cfg.File)
	if err != nil {
		return nil, err
	}

	out := sink(cfg, file)
	if cfg.Redaction {
		out = NewRedactor().Wrap(out)
	}

	zl := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{logger: zl, file: file}, nil
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// sink combines stderr and the log file. With neither configured, output
// still goes to stderr.
func sink(cfg Config, file *os.File) io.Writer {
	var console io.Writer
	if cfg.Console {
		console = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
	}

	switch {
	case console != nil && file != nil:
		return io.MultiWriter(console, file)
	case file != nil:
		return file
	case console != nil:
		return console
	default:
		return os.Stderr
	}
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}
