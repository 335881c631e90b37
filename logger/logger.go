package logger

import (
	"io"
	"os"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/rs/zerolog"
)

// Logger defines the logging interface
type Logger interface {
	// Error logs an error message
	Error(msg string, args ...interface{})
	// Warn logs a warning message
	Warn(msg string, args ...interface{})
	// Info logs an informational message
	Info(msg string, args ...interface{})
	// Debug logs a debug message
	Debug(msg string, args ...interface{})
	// Verbose logs a verbose/trace message
	Verbose(msg string, args ...interface{})

	// With returns a new logger with additional context fields
	With(key string, value interface{}) Logger
	// WithFields returns a new logger with multiple context fields
	WithFields(fields map[string]interface{}) Logger
}

func init() {
	// Per logger levels do the filtering; the global floor must not hide trace events
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
}

// DefaultLogger is the zerolog backed Logger implementation
type DefaultLogger struct {
	zl zerolog.Logger
}

// NewLogger creates a new logger writing to stdout
func NewLogger(cfg *config.LoggerConfig) Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer (useful for testing)
func NewLoggerWithWriter(cfg *config.LoggerConfig, writer io.Writer) Logger {
	if cfg == nil {
		cfg = &config.LoggerConfig{}
	}
	cfg.ApplyDefaults()

	out := writer
	if cfg.Format == config.LogFormatConsole {
		cw := zerolog.ConsoleWriter{
			Out:        writer,
			NoColor:    true,
			TimeFormat: cfg.TimeFormat,
		}
		if cfg.TimeFormat == "" {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		out = cw
	}

	zctx := zerolog.New(out).Level(levelFor(cfg.Level)).With()
	if cfg.TimeFormat != "" {
		zctx = zctx.Timestamp()
	}
	if cfg.AddSource {
		// skip log() and the level method
		zctx = zctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}

	return &DefaultLogger{zl: zctx.Logger()}
}

func levelFor(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelSilent:
		return zerolog.Disabled
	case config.LogLevelError:
		return zerolog.ErrorLevel
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelVerbose:
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *DefaultLogger) log(e *zerolog.Event, msg string, args ...interface{}) {
	if e == nil {
		return
	}
	if len(args) > 0 {
		e.Msgf(msg, args...)
		return
	}
	e.Msg(msg)
}

// Error logs an error message
func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	l.log(l.zl.Error(), msg, args...)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	l.log(l.zl.Warn(), msg, args...)
}

// Info logs an informational message
func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	l.log(l.zl.Info(), msg, args...)
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	l.log(l.zl.Debug(), msg, args...)
}

// Verbose logs a verbose/trace message
func (l *DefaultLogger) Verbose(msg string, args ...interface{}) {
	l.log(l.zl.Trace(), msg, args...)
}

// With returns a new logger with an additional context field
func (l *DefaultLogger) With(key string, value interface{}) Logger {
	return &DefaultLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a new logger with multiple context fields
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	return &DefaultLogger{zl: l.zl.With().Fields(fields).Logger()}
}

// NoOpLogger is a logger that does nothing (useful for testing or when logging is disabled)
type NoOpLogger struct{}

// NewNoOpLogger creates a no-op logger
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Error(msg string, args ...interface{})           {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})            {}
func (n *NoOpLogger) Info(msg string, args ...interface{})            {}
func (n *NoOpLogger) Debug(msg string, args ...interface{})           {}
func (n *NoOpLogger) Verbose(msg string, args ...interface{})         {}
func (n *NoOpLogger) With(key string, value interface{}) Logger       { return n }
func (n *NoOpLogger) WithFields(fields map[string]interface{}) Logger { return n }
