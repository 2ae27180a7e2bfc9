package logger

import (
	"io"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var zerologLevels = map[Level]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
	FATAL: zerolog.FatalLevel,
}

// Logger writes structured JSON lines through zerolog. Fields attached with
// WithField are carried by every entry the derived logger emits.
type Logger struct {
	mu     sync.RWMutex
	zl     zerolog.Logger
	fields map[string]any
}

var std *Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	std = New(INFO, os.Stdout)
}

func New(level Level, out io.Writer) *Logger {
	return &Logger{
		zl:     zerolog.New(out).Level(zerologLevels[level]).With().Timestamp().Logger(),
		fields: make(map[string]any),
	}
}

// SetLevel changes the minimum level of the package logger.
func SetLevel(level Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.zl = std.zl.Level(zerologLevels[level])
}

// SetFormat switches the package logger between "json" and "console" output.
func SetFormat(format string, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	std.zl = std.zl.Output(out)
}

func (l *Logger) WithField(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newLogger := &Logger{
		zl:     l.zl,
		fields: make(map[string]any, len(l.fields)+1),
	}
	maps.Copy(newLogger.fields, l.fields)
	newLogger.fields[key] = value
	return newLogger
}

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	l.mu.RLock()
	zl := l.zl
	base := l.fields
	l.mu.RUnlock()

	var event *zerolog.Event
	switch level {
	case DEBUG:
		event = zl.Debug()
	case INFO:
		event = zl.Info()
	case WARN:
		event = zl.Warn()
	case ERROR:
		event = zl.Error().Caller(3)
	default:
		event = zl.WithLevel(zerolog.FatalLevel).Caller(3)
	}
	if event == nil {
		return
	}

	if len(base) > 0 || len(fields) > 0 {
		merged := make(map[string]any, len(base)+len(fields))
		maps.Copy(merged, base)
		maps.Copy(merged, fields)
		event = event.Fields(merged)
	}
	event.Msg(msg)

	if level == FATAL {
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(DEBUG, msg, mergeFields(fields...))
}

func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(INFO, msg, mergeFields(fields...))
}

func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(WARN, msg, mergeFields(fields...))
}

func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(ERROR, msg, mergeFields(fields...))
}

func (l *Logger) Fatal(msg string, fields ...map[string]any) {
	l.log(FATAL, msg, mergeFields(fields...))
}

func Debug(msg string, fields ...map[string]any) {
	std.Debug(msg, fields...)
}

func Info(msg string, fields ...map[string]any) {
	std.Info(msg, fields...)
}

func Warn(msg string, fields ...map[string]any) {
	std.Warn(msg, fields...)
}

func Error(msg string, fields ...map[string]any) {
	std.Error(msg, fields...)
}

func Fatal(msg string, fields ...map[string]any) {
	std.Fatal(msg, fields...)
}

func WithField(key string, value any) *Logger {
	return std.WithField(key, value)
}

func mergeFields(fields ...map[string]any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	result := make(map[string]any)
	for _, f := range fields {
		maps.Copy(result, f)
	}
	return result
}

func ParseLevel(level string) Level {
	switch level {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}
