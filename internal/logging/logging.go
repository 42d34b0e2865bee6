// Package logging provides the conductor and worker's file-backed
// logger, adapted directly from the teacher's internal/logging/logging.go
// (same timestamped-line format, same debug-level gating), renamed to
// this project's env var and default path.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/warmrun/warmd/internal/config"
)

// Logger writes timestamped lines to a file, gating Debug output behind
// WARMD_DEBUG.
type Logger struct {
	file   *os.File
	logger *log.Logger
	debug  bool
}

// New opens (creating if necessary) the log file at path.
func New(path string) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &Logger{
		file:   file,
		logger: log.New(file, "", 0),
		debug:  config.DebugLevel() >= config.LogDebug,
	}, nil
}

// Close closes the underlying log file.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level, msg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Printf("[%s] %s: %s", timestamp, level, msg)
}

// Info logs an informational message.
func (l *Logger) Info(msg string) { l.log("INFO", msg) }

// Error logs an error message. Per §7's error-handling policy, anything
// reportable to the user goes to the client's stdio; everything else —
// including every ProtocolError and WorkerDeath this package records —
// lands here so nothing is silently swallowed.
func (l *Logger) Error(msg string) { l.log("ERROR", msg) }

// Debug logs a message only when WARMD_DEBUG requests debug or trace
// verbosity.
func (l *Logger) Debug(msg string) {
	if l.debug {
		l.log("DEBUG", msg)
	}
}

// Infof formats and logs an informational message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Errorf formats and logs an error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Debugf formats and logs a debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}
