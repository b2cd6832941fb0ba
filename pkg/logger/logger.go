package logger

import (
	"io"
	"log"
	"os"
)

// LoggerInterface defines the methods that your logger should implement.
type LoggerInterface interface {
	Printf(format string, v ...interface{})
}

// Logger represents a logger instance.
type Logger struct {
	*log.Logger
}

// NewLogger creates a new file-backed logger at the given path.
func NewLogger(path string) (LoggerInterface, error) {
	logFile, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: log.New(logFile, "", log.LstdFlags)}, nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() LoggerInterface {
	return &Logger{Logger: log.New(io.Discard, "", 0)}
}
