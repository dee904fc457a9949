package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type LogLevel = string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

type LogCfg struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// CustomTextHandler renders tagged log lines with colored output.
type CustomTextHandler struct {
	writer io.Writer
	level  slog.Level
	mu     sync.Mutex
}

var (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

var tagColors = map[string]string{
	"[CONN]":   "\x1b[94m",
	"[AUDIO]":  "\x1b[35m",
	"[TURN]":   "\x1b[95m",
	"[SPEECH]": "\x1b[92m",
	"[SYNTH]":  "\x1b[96m",
	"[DIALOG]": "\x1b[93m",
	"[AUTH]":   "\x1b[91m",
}

func (h *CustomTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *CustomTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelColor string
	switch r.Level {
	case slog.LevelDebug:
		levelColor = colorDebug
	case slog.LevelInfo:
		levelColor = colorInfo
	case slog.LevelWarn:
		levelColor = colorWarn
	case slog.LevelError:
		levelColor = colorError
	default:
		levelColor = colorReset
	}

	msg := r.Message
	var output string
	tagged := false
	for tag, color := range tagColors {
		if strings.HasPrefix(msg, tag) {
			output = fmt.Sprintf("%s[%s]%s %s%s%s",
				colorTime, timeStr, colorReset, color, msg, colorReset)
			tagged = true
			break
		}
	}
	if !tagged {
		output = fmt.Sprintf("%s[%s]%s %s[%s]%s %s",
			colorTime, timeStr, colorReset,
			levelColor, strings.ToUpper(r.Level.String()), colorReset, msg)
	}

	if r.NumAttrs() > 0 {
		output += " {"
		r.Attrs(func(a slog.Attr) bool {
			output += fmt.Sprintf(" %s=%v", a.Key, a.Value)
			return true
		})
		output += " }"
	}
	output += "\n"

	_, err := h.writer.Write([]byte(output))
	return err
}

func (h *CustomTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *CustomTextHandler) WithGroup(name string) slog.Handler {
	return h
}

// Logger is the SDK-wide logger, threaded through construction.
type Logger struct {
	config     *LogCfg
	textLogger *slog.Logger
}

func configLogLevelToSlogLevel(configLevel string) slog.Level {
	switch strings.ToLower(configLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a logger writing colored text to stdout.
func NewLogger(config *LogCfg) (*Logger, error) {
	if config == nil {
		config = &LogCfg{LogLevel: InfoLevel}
	}
	slogLevel := configLogLevelToSlogLevel(config.LogLevel)

	customHandler := &CustomTextHandler{
		writer: os.Stdout,
		level:  slogLevel,
	}

	return &Logger{
		config:     config,
		textLogger: slog.New(customHandler),
	}, nil
}

// Slog exposes the structured logger for integrations that want slog directly.
func (l *Logger) Slog() *slog.Logger {
	return l.textLogger
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.textLogger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.textLogger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.textLogger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.textLogger.Error(fmt.Sprintf(format, args...))
}

// DebugTag logs a debug message prefixed with a module tag, e.g. [CONN].
func (l *Logger) DebugTag(tag string, format string, args ...interface{}) {
	l.textLogger.Debug(fmt.Sprintf("[%s] %s", tag, fmt.Sprintf(format, args...)))
}

func (l *Logger) InfoTag(tag string, format string, args ...interface{}) {
	l.textLogger.Info(fmt.Sprintf("[%s] %s", tag, fmt.Sprintf(format, args...)))
}

func (l *Logger) WarnTag(tag string, format string, args ...interface{}) {
	l.textLogger.Warn(fmt.Sprintf("[%s] %s", tag, fmt.Sprintf(format, args...)))
}

func (l *Logger) ErrorTag(tag string, format string, args ...interface{}) {
	l.textLogger.Error(fmt.Sprintf("[%s] %s", tag, fmt.Sprintf(format, args...)))
}
