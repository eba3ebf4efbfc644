// Package logger provides the leveled logger used throughout statickg.
// It wraps the standard `log` package, filters messages by level and can tee
// output into a rotating set of files under the working directory.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is used for per-file progress and skip messages.
	LevelDebug LogLevel = iota
	// LevelInfo is used for task and generation level messages.
	LevelInfo
	// LevelWarn is used for recoverable anomalies.
	LevelWarn
	// LevelError is used for errors that abort a task.
	LevelError
	// LevelFatal is used for errors that terminate the process.
	LevelFatal
)

// DefaultRetention is how long run log files are kept in the log directory.
const DefaultRetention = 30 * 24 * time.Hour

var (
	logLevel = LevelInfo

	sinkMu   sync.Mutex
	sinkFile *os.File
)

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// Unknown values fall back to INFO.
func SetLogLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		logLevel = LevelDebug
	case "INFO":
		logLevel = LevelInfo
	case "WARN":
		logLevel = LevelWarn
	case "ERROR":
		logLevel = LevelError
	case "FATAL":
		logLevel = LevelFatal
	default:
		fmt.Printf("Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
		logLevel = LevelInfo
	}
}

// GetLogLevel returns the current global log level.
func GetLogLevel() LogLevel {
	return logLevel
}

// AddFileSink tees every log line into a new file `<dir>/<timestamp>.log` and
// removes log files in dir whose modification time is older than retention.
// A non-positive retention means DefaultRetention. Calling it again replaces the
// previous sink.
func AddFileSink(dir string, retention time.Duration) error {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	pruneLogFiles(dir, retention, time.Now())

	name := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05.000000")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", name, err)
	}

	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sinkFile != nil {
		_ = sinkFile.Close()
	}
	sinkFile = f
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// CloseFileSink detaches and closes the file sink installed by AddFileSink.
func CloseFileSink() error {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	log.SetOutput(os.Stderr)
	if sinkFile == nil {
		return nil
	}
	err := sinkFile.Close()
	sinkFile = nil
	return err
}

func pruneLogFiles(dir string, retention time.Duration, now time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > retention {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				Debugf("Removed expired log file %s", entry.Name())
			}
		}
	}
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	if logLevel <= LevelDebug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	if logLevel <= LevelInfo {
		log.Printf("[INFO] "+format, v...)
	}
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	if logLevel <= LevelWarn {
		log.Printf("[WARN] "+format, v...)
	}
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	if logLevel <= LevelError {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf formats and outputs a FATAL level log message,
// then terminates the program by calling os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}
