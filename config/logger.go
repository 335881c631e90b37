package config

import "fmt"

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LogLevelSilent  LogLevel = "silent"  // No logging output
	LogLevelError   LogLevel = "error"   // Only errors
	LogLevelInfo    LogLevel = "info"    // Info, warnings, and errors
	LogLevelDebug   LogLevel = "debug"   // Debug info + all above
	LogLevelVerbose LogLevel = "verbose" // All details including trace
)

// LogFormat selects how log lines are rendered
type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level      LogLevel  `mapstructure:"level" yaml:"level"`                       // Log level
	Format     LogFormat `mapstructure:"format" yaml:"format,omitempty"`           // console or json
	AddSource  bool      `mapstructure:"add_source" yaml:"add_source,omitempty"`   // Include source file and line number
	TimeFormat string    `mapstructure:"time_format" yaml:"time_format,omitempty"` // Time format (empty for no timestamp)
}

// Validate validates the logger configuration
func (lc *LoggerConfig) Validate() error {
	switch lc.Level {
	case LogLevelSilent, LogLevelError, LogLevelInfo, LogLevelDebug, LogLevelVerbose:
		// Valid levels
	case "":
		// Empty is OK, will be set to default in ApplyDefaults
	default:
		return fmt.Errorf("invalid log level: %s (must be one of: silent, error, info, debug, verbose)", lc.Level)
	}
	switch lc.Format {
	case LogFormatConsole, LogFormatJSON, "":
	default:
		return fmt.Errorf("invalid log format: %s (must be one of: console, json)", lc.Format)
	}
	return nil
}

// ApplyDefaults sets default values for logger configuration
func (lc *LoggerConfig) ApplyDefaults() {
	if lc.Level == "" {
		lc.Level = LogLevelInfo // Default to info level
	}
	if lc.Format == "" {
		lc.Format = LogFormatConsole
	}
}
