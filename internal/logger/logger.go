// Package logger configures the process-wide structured logger. It
// mirrors the teacher's internal/logger package: a package-level
// *slog.Logger built once at startup, a multi-writer over stdout and an
// optional log file, and a shortened time format.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/colorprofile"
)

var Log *slog.Logger

// Init initializes the global logger
func Init(level string, logFile string) error {
	// Parse log level
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Set up multi-writer (stdout + file)
	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	multiWriter := io.MultiWriter(writers...)

	profile := colorprofile.Detect(os.Stdout, os.Environ())
	highlight := profile != colorprofile.NoTTY && profile != colorprofile.Ascii

	// Create handler with custom options
	handler := slog.NewTextHandler(multiWriter, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				// Shorten time format
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			case slog.LevelKey:
				if highlight {
					return slog.String("level", highlightLevel(a.Value.String()))
				}
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return nil
}

// highlightLevel reverses the video on a WARN/ERROR level label so it
// stands out on an attached color terminal; plain otherwise.
func highlightLevel(level string) string {
	switch level {
	case "WARN", "ERROR":
		return "\x1b[7m" + level + "\x1b[0m"
	default:
		return level
	}
}

// LevelFromCode maps the TNT_SSH_LOG_LEVEL 0..4 numeric scale onto the
// named levels Init accepts: 0=error, 1=warn, 2=info, 3 and above=debug.
func LevelFromCode(code int) string {
	switch {
	case code <= 0:
		return "error"
	case code == 1:
		return "warn"
	case code == 2:
		return "info"
	default:
		return "debug"
	}
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}
