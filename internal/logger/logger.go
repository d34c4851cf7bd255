// Package logger provides a thin wrapper around logrus for structured logging.
//
// The TUI owns the terminal, so once Init is called all output goes to a
// rotating log file instead of stderr.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger instance.
var Logger = newLogger(os.Stderr, logrus.InfoLevel)

func newLogger(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return l
}

// Init redirects the global logger to a rotating file at path.
// An empty path keeps logging on stderr.
func Init(path, level string) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}

	if path == "" {
		Logger = newLogger(os.Stderr, lvl)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	Logger = newLogger(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}, lvl)
	return nil
}

// fields turns alternating key/value pairs into logrus fields.
func fields(args []any) logrus.Fields {
	if len(args) == 0 {
		return nil
	}
	f := make(logrus.Fields, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			f["!BADKEY"] = args[i]
			break
		}
		k, ok := args[i].(string)
		if !ok {
			k = fmt.Sprint(args[i])
		}
		f[k] = args[i+1]
	}
	return f
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.WithFields(fields(args)).Error(msg)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.WithFields(fields(args)).Info(msg)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.WithFields(fields(args)).Warn(msg)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.WithFields(fields(args)).Debug(msg)
}
