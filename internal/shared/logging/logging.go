// Package logging wraps zerolog the way
// _examples/edgetainer-edgetainer/internal/shared/logging/logging.go does:
// a global logger plus per-component loggers, console output with an
// optional file tee. The GORM trace adapter is dropped -- this system has
// no ORM to instrument (see DESIGN.md).
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

// Initialize sets up the global logger settings
func Initialize(logLevel string, logFile string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	if logFile != "" {
		dir := filepath.Dir(logFile)
		if dir != "." && dir != "/" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}

		file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		multi := zerolog.MultiLevelWriter(output, file)
		log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	globalLogger = &Logger{
		logger: log.Logger.With().Str("component", "global").Logger(),
	}

	return nil
}

// Logger is a simple wrapper around zerolog.Logger
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new logger with a given context name
func NewLogger(component string) *Logger {
	return &Logger{
		logger: log.Logger.With().Str("component", component).Logger(),
	}
}

// Zerolog returns the underlying zerolog.Logger, for components (session,
// devicefrontdoor, controlserver, reconcile, devclient) that take one
// directly rather than this wrapper.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// SetOutput sets a custom output writer for the logger
func (l *Logger) SetOutput(w io.Writer) {
	l.logger = l.logger.Output(w)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if len(args) > 0 {
		l.logger.Debug().Msgf(msg, args...)
	} else {
		l.logger.Debug().Msg(msg)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if len(args) > 0 {
		l.logger.Info().Msgf(msg, args...)
	} else {
		l.logger.Info().Msg(msg)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if len(args) > 0 {
		l.logger.Warn().Msgf(msg, args...)
	} else {
		l.logger.Warn().Msg(msg)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, err error, args ...interface{}) {
	event := l.logger.Error()
	if err != nil {
		event = event.Err(err)
	}

	if len(args) > 0 {
		event.Msgf(msg, args...)
	} else {
		event.Msg(msg)
	}
}

// Fatal logs a fatal message and exits the application
func (l *Logger) Fatal(msg string, err error, args ...interface{}) {
	event := l.logger.Fatal()
	if err != nil {
		event = event.Err(err)
	}

	if len(args) > 0 {
		event.Msgf(msg, args...)
	} else {
		event.Msg(msg)
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	contextLogger := l.logger.With()
	for k, v := range fields {
		contextLogger = contextLogger.Interface(k, v)
	}
	return &Logger{
		logger: contextLogger.Logger(),
	}
}

// Global logger for package-level logging
var globalLogger *Logger

// Debug logs a debug message to the global logger
func Debug(msg string, args ...interface{}) {
	if globalLogger == nil {
		globalLogger = NewLogger("global")
	}
	globalLogger.Debug(msg, args...)
}

// Info logs an info message to the global logger
func Info(msg string, args ...interface{}) {
	if globalLogger == nil {
		globalLogger = NewLogger("global")
	}
	globalLogger.Info(msg, args...)
}

// Warn logs a warning message to the global logger
func Warn(msg string, args ...interface{}) {
	if globalLogger == nil {
		globalLogger = NewLogger("global")
	}
	globalLogger.Warn(msg, args...)
}

// Error logs an error message to the global logger
func Error(msg string, err error, args ...interface{}) {
	if globalLogger == nil {
		globalLogger = NewLogger("global")
	}
	globalLogger.Error(msg, err, args...)
}

// Fatal logs a fatal message to the global logger and exits
func Fatal(msg string, err error, args ...interface{}) {
	if globalLogger == nil {
		globalLogger = NewLogger("global")
	}
	globalLogger.Fatal(msg, err, args...)
}

// WithComponent creates a new logger with the component field set
func WithComponent(component string) *Logger {
	return NewLogger(component)
}
