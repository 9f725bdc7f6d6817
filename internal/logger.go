package internal

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var (
	logMu    sync.Mutex
	logLevel = LogLevelInfo
	logger   = log.New(os.Stderr, "", log.LstdFlags)
)

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	logMu.Lock()
	logLevel = level
	logMu.Unlock()
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LogLevelDebug)
	} else {
		SetLogLevel(LogLevelInfo)
	}
}

// SetLogOutput redirects log output, e.g. to keep the watch view clean.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

func enabled(level LogLevel) bool {
	logMu.Lock()
	defer logMu.Unlock()
	return logLevel >= level
}

func logError(format string, args ...interface{}) {
	if enabled(LogLevelError) {
		logger.Printf("[ERROR] "+format, args...)
	}
}

func logWarn(format string, args ...interface{}) {
	if enabled(LogLevelWarn) {
		logger.Printf("[WARN] "+format, args...)
	}
}

func logInfo(format string, args ...interface{}) {
	if enabled(LogLevelInfo) {
		logger.Printf("[INFO] "+format, args...)
	}
}

func logDebug(format string, args ...interface{}) {
	if enabled(LogLevelDebug) {
		logger.Printf("[DEBUG] "+format, args...)
	}
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	logError(format, args...)
}

// LogWarn logs a warning message
func LogWarn(format string, args ...interface{}) {
	logWarn(format, args...)
}

// LogInfo logs an info message
func LogInfo(format string, args ...interface{}) {
	logInfo(format, args...)
}

// LogDebug logs a debug message
func LogDebug(format string, args ...interface{}) {
	logDebug(format, args...)
}

// TaggedLogger prefixes every line with a component tag such as [SSE].
type TaggedLogger struct {
	prefix string
}

// Tag returns a logger for one component.
func Tag(name string) *TaggedLogger {
	return &TaggedLogger{prefix: fmt.Sprintf("[%s] ", name)}
}

func (l *TaggedLogger) Error(format string, args ...interface{}) {
	logError(l.prefix+format, args...)
}

func (l *TaggedLogger) Warn(format string, args ...interface{}) {
	logWarn(l.prefix+format, args...)
}

func (l *TaggedLogger) Info(format string, args ...interface{}) {
	logInfo(l.prefix+format, args...)
}

func (l *TaggedLogger) Debug(format string, args ...interface{}) {
	logDebug(l.prefix+format, args...)
}
