// Package logger builds the logrus logger shared by the pipeline, the runner
// and the API, and the field helpers they log through.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field keys used across packages.
const (
	FieldFile      = "file"
	FieldOperation = "operation"
	FieldIndex     = "index"
	FieldSize      = "size"
)

// LoggerConfig defines the configuration for the logger.
type LoggerConfig struct {
	Level      string // debug, info, warn or error
	Format     string // json (default) or text
	FilePath   string // rotated log file, empty for console only
	MaxSize    int    // MB before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool      // mirror entries to Output
	Output     io.Writer // console writer, os.Stderr when nil
}

// NewLogger returns a logrus.Logger writing to a rotated file, the console,
// or both.
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := newFormatter(config.Format)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatter)

	var writers []io.Writer
	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}
	if config.Console || config.FilePath == "" {
		console := config.Output
		if console == nil {
			console = os.Stderr
		}
		writers = append(writers, console)
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return logger, nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
			},
		}, nil
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		}, nil
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: json, text)", format)
	}
}

// WithOperation returns an entry tagged with the pipeline stage or API route.
func WithOperation(logger logrus.FieldLogger, operation string) *logrus.Entry {
	return logger.WithField(FieldOperation, operation)
}

// WithFileOperation tags an entry with a file on disk and the operation on it.
func WithFileOperation(logger logrus.FieldLogger, filePath, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		FieldFile:      filePath,
		FieldOperation: operation,
	})
}

// WithImage tags an entry with an in-memory image: its position in a batch
// and its payload size in bytes.
func WithImage(logger logrus.FieldLogger, operation string, index int, size int64) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		FieldOperation: operation,
		FieldIndex:     index,
		FieldSize:      size,
	})
}

// DefaultConfig returns the default LoggerConfig.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		Format:     "json",
		FilePath:   "photo-press.log",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
		Console:    true,
	}
}
