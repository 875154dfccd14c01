package tileview

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// LogLevel is the severity of a log line
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogError
)

var logLevelPrefix = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogError: "ERROR",
}

// ParseLogLevel converts a config string ("debug", "info", "error") to a LogLevel
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogDebug, nil
	case "", "info":
		return LogInfo, nil
	case "error":
		return LogError, nil
	}
	return LogInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
}

// Logger is the logging interface used by sessions and loaders
type Logger interface {
	Printf(level LogLevel, format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Errorf(format string, a ...interface{})
}

// StdErrLogger writes lines at or above its level to stderr
type StdErrLogger struct {
	level LogLevel
	out   *log.Logger
}

// NewStdErrLogger creates a logger that drops lines below level
func NewStdErrLogger(level LogLevel) *StdErrLogger {
	return &StdErrLogger{
		level: level,
		out:   log.New(os.Stderr, "tileview ", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *StdErrLogger) Printf(level LogLevel, format string, a ...interface{}) {
	if level < l.level {
		return
	}
	l.out.Println(logLevelPrefix[level] + ": " + fmt.Sprintf(format, a...))
}
func (l *StdErrLogger) Debugf(format string, a ...interface{}) {
	l.Printf(LogDebug, format, a...)
}
func (l *StdErrLogger) Infof(format string, a ...interface{}) {
	l.Printf(LogInfo, format, a...)
}
func (l *StdErrLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

func (l *StdErrLogger) SetLogLevel(level LogLevel) {
	l.level = level
}
func (l *StdErrLogger) GetLogLevel() LogLevel {
	return l.level
}

// NullLogger discards everything
type NullLogger struct{}

func (l *NullLogger) Printf(level LogLevel, format string, a ...interface{}) {}
func (l *NullLogger) Debugf(format string, a ...interface{})                 {}
func (l *NullLogger) Infof(format string, a ...interface{})                  {}
func (l *NullLogger) Errorf(format string, a ...interface{})                 {}
