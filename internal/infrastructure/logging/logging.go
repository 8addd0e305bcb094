package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/asakaida/chronicle/internal/infrastructure/config"
	"github.com/rs/zerolog"
)

const permission = 0664

// Builder assembles a zerolog logger writing to a file, a writer or stdout
type Builder struct {
	writer io.Writer
	path   string
	level  string
}

// Log holds a built logger and the file it writes to, if any
type Log struct {
	Logger  zerolog.Logger
	LogFile *os.File
}

// New creates a builder that writes info level logs to stdout
func New() *Builder {
	return &Builder{}
}

// FromConfig creates a builder from the logging configuration
func FromConfig(cfg config.LogConfig) *Builder {
	return New().FromPath(cfg.Path).WithLevel(cfg.Level)
}

// FromPath appends logs to the file at path. An empty path is ignored.
func (b *Builder) FromPath(path string) *Builder {
	b.path = path
	return b
}

// FromWriter writes logs to w
func (b *Builder) FromWriter(w io.Writer) *Builder {
	b.writer = w
	return b
}

// WithLevel sets the minimum level by name (debug, info, warn, error)
func (b *Builder) WithLevel(level string) *Builder {
	b.level = level
	return b
}

// Make builds the logger. A file path takes precedence over the writer.
func (b *Builder) Make() (*Log, error) {
	level := zerolog.InfoLevel
	if b.level != "" {
		parsed, err := zerolog.ParseLevel(b.level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", b.level, err)
		}
		level = parsed
	}

	log := &Log{}
	var w io.Writer = os.Stdout
	if b.writer != nil {
		w = b.writer
	}
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		log.LogFile = f
		w = zerolog.SyncWriter(f)
	}

	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return log, nil
}

// Close closes the log file, if any
func (l *Log) Close() error {
	if l.LogFile != nil {
		return l.LogFile.Close()
	}
	return nil
}
