package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	logMu     sync.RWMutex
	logLevel  = LevelInfo
	useColors = true
	logger    = newConsoleLogger(os.Stderr, true)
)

func newConsoleLogger(w io.Writer, colors bool) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !colors,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLogLevel sets the minimum log level to display
func SetLogLevel(level LogLevel) {
	logMu.Lock()
	defer logMu.Unlock()
	logLevel = level
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LevelDebug)
	}
}

// SetQuiet enables quiet mode (errors only)
func SetQuiet(quiet bool) {
	if quiet {
		SetLogLevel(LevelError)
	}
}

// IsQuiet reports whether only errors are shown
func IsQuiet() bool {
	logMu.RLock()
	defer logMu.RUnlock()
	return logLevel >= LevelError
}

// SetColors enables or disables colored output
func SetColors(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	useColors = enabled
	logger = newConsoleLogger(os.Stderr, enabled)
}

// SetOutput redirects log output, mainly for tests
func SetOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = newConsoleLogger(w, useColors)
}

func enabled(level LogLevel) (zerolog.Logger, bool) {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger, logLevel <= level
}

// DebugLog logs debug messages
func DebugLog(format string, args ...interface{}) {
	if l, ok := enabled(LevelDebug); ok {
		l.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

// InfoLog logs informational messages
func InfoLog(format string, args ...interface{}) {
	if l, ok := enabled(LevelInfo); ok {
		l.Info().Msg(fmt.Sprintf(format, args...))
	}
}

// WarnLog logs warning messages
func WarnLog(format string, args ...interface{}) {
	if l, ok := enabled(LevelWarn); ok {
		l.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// ErrorLog logs error messages
func ErrorLog(format string, args ...interface{}) {
	if l, ok := enabled(LevelError); ok {
		l.Error().Msg(fmt.Sprintf(format, args...))
	}
}

// SuccessLog logs success messages (always shown unless quiet)
func SuccessLog(format string, args ...interface{}) {
	if l, ok := enabled(LevelInfo); ok {
		l.Info().Bool("ok", true).Msg(fmt.Sprintf(format, args...))
	}
}
