// SPDX-License-Identifier: MIT
package validate

import "github.com/rs/zerolog"

// LogLevel is a log level accepted in configuration.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

func (l LogLevel) String() string {
	return string(l)
}

// Zerolog maps the level onto zerolog. Unknown levels map to info.
func (l LogLevel) Zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLogLevel parses a string into a LogLevel. The empty string means info.
func ParseLogLevel(s string) (LogLevel, error) {
	if s == "" {
		return LogLevelInfo, nil
	}
	level := LogLevel(s)
	if !level.IsValid() {
		return "", ErrInvalidLogLevel
	}
	return level, nil
}

// ErrInvalidLogLevel is returned by ParseLogLevel.
var ErrInvalidLogLevel = &Error{
	Field:   "log.level",
	Message: "invalid log level (must be: debug, info, warn, error)",
}
