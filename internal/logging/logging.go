package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level is a log severity.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a config value such as "debug" into a Level.
// Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the leveled logging interface handed to integration components.
// Fields are alternating key/value pairs.
type Logger interface {
	Trace(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// StdLogger implements Logger on top of a standard library log.Logger.
type StdLogger struct {
	logger *log.Logger
	level  Level
}

// New creates a StdLogger writing to w with the given prefix.
func New(w io.Writer, prefix string, level Level) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{
		logger: log.New(w, prefix, log.LstdFlags),
		level:  level,
	}
}

// Discard returns a logger that drops everything.
func Discard() *StdLogger {
	return &StdLogger{logger: log.New(io.Discard, "", 0), level: LevelError + 1}
}

func (l *StdLogger) Trace(msg string, fields ...interface{}) { l.log(LevelTrace, msg, fields) }
func (l *StdLogger) Debug(msg string, fields ...interface{}) { l.log(LevelDebug, msg, fields) }
func (l *StdLogger) Info(msg string, fields ...interface{})  { l.log(LevelInfo, msg, fields) }
func (l *StdLogger) Warn(msg string, fields ...interface{})  { l.log(LevelWarn, msg, fields) }
func (l *StdLogger) Error(msg string, fields ...interface{}) { l.log(LevelError, msg, fields) }

func (l *StdLogger) log(level Level, msg string, fields []interface{}) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i < len(fields); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(fields) {
			fmt.Fprintf(&b, "%v=%v", fields[i], fields[i+1])
		} else {
			fmt.Fprintf(&b, "%v=(MISSING)", fields[i])
		}
	}
	l.logger.Print(b.String())
}
