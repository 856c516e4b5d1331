// Package logging provides leveled, timestamped logging with text and JSON output.
// All progress and milestone reporting in the auditor goes through this package so
// that cron-driven runs produce parseable, timestamped log lines.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name in uppercase.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name. It accepts any casing but no surrounding
// whitespace. "warning" is accepted as an alias for "warn".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

var (
	mu     sync.Mutex
	level  = LevelInfo
	format = "text"
	output io.Writer
)

// SetLevel sets the minimum level that will be logged.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// SetFormat sets the output format: "text" or "json".
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if f == "json" || f == "text" {
		format = f
	}
}

// SetOutput sets the log destination. Passing nil restores the default (stderr).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Debug logs at debug level.
func Debug(msg string, args ...interface{}) {
	logAt(LevelDebug, msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...interface{}) {
	logAt(LevelInfo, msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...interface{}) {
	logAt(LevelWarn, msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...interface{}) {
	logAt(LevelError, msg, args...)
}

type jsonEntry struct {
	TS    string `json:"ts"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func logAt(l Level, msg string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if l < level {
		return
	}

	w := output
	if w == nil {
		w = os.Stderr
	}

	rendered := msg
	if len(args) > 0 {
		rendered = fmt.Sprintf(msg, args...)
	}

	now := time.Now()
	if format == "json" {
		entry := jsonEntry{
			TS:    now.Format(time.RFC3339),
			Level: lowerLevelName(l),
			Msg:   rendered,
		}
		b, err := json.Marshal(entry)
		if err != nil {
			return
		}
		fmt.Fprintln(w, string(b))
		return
	}

	fmt.Fprintf(w, "%s [%s] %s\n", now.Format("2006-01-02 15:04:05"), l.String(), rendered)
}

func lowerLevelName(l Level) string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}
