package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents different logging levels.
// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface for agentstep.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// StepLogger is a slog-backed Logger carrying chat and agent attributes
// plus outcome helpers for steps, generations and tool calls. The With
// methods return derived loggers; the receiver is never modified.
type StepLogger struct {
	logger *slog.Logger
}

var _ Logger = (*StepLogger)(nil)

// LoggerConfig configures construction of a StepLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr}
}

// NewLogger builds a StepLogger from cfg, or from the defaults when nil.
func NewLogger(cfg *LoggerConfig) *StepLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler = slog.NewJSONHandler(out, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With("component", cfg.Component)
	}
	for k, v := range cfg.CustomAttrs {
		logger = logger.With(k, v)
	}
	return &StepLogger{logger: logger}
}

// NewSlogLogger creates a StepLogger writing to stderr.
func NewSlogLogger(level LogLevel, format string, addSource bool) *StepLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that adds args to every entry.
func (l *StepLogger) With(args ...any) *StepLogger {
	return &StepLogger{logger: l.logger.With(args...)}
}

// WithComponent names the emitting component (engine, backend, flow).
func (l *StepLogger) WithComponent(c string) *StepLogger {
	return l.With("component", c)
}

// WithChat attaches the chat and agent ids; empty ids are omitted.
func (l *StepLogger) WithChat(chatID, agentID string) *StepLogger {
	args := make([]any, 0, 4)
	if chatID != "" {
		args = append(args, "chat_id", chatID)
	}
	if agentID != "" {
		args = append(args, "agent_id", agentID)
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}

// Debug logs at debug level.
func (l *StepLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Info logs at info level.
func (l *StepLogger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs at warn level.
func (l *StepLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs at error level.
func (l *StepLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// LogStep records one step of an agent's step list as step.complete or
// step.failed.
func (l *StepLogger) LogStep(step string, index int, dur time.Duration, success bool, err error) {
	l.outcome("step", slog.LevelError, success, err,
		slog.String("step", step), slog.Int("step_index", index), slog.Duration("duration", dur))
}

// LogLLMCall records one generation as generation.complete or
// generation.failed.
func (l *StepLogger) LogLLMCall(model string, tokens int, dur time.Duration, success bool, err error) {
	l.outcome("generation", slog.LevelError, success, err,
		slog.String("model", model), slog.Int("token_count", tokens), slog.Duration("duration", dur))
}

// LogToolCall records one tool execution as tool.call.complete or
// tool.call.failed. Tool failures are fed back to the model, so they log
// at warn level.
func (l *StepLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	l.outcome("tool.call", slog.LevelWarn, success, err,
		slog.String("tool_name", tool), slog.Duration("duration", dur))
}

func (l *StepLogger) outcome(event string, failLevel slog.Level, success bool, err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.Bool("success", success))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	level, msg := slog.LevelInfo, event+".complete"
	if !success {
		level, msg = failLevel, event+".failed"
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...any) {}
func (NoOpLogger) Info(string, ...any)  {}
func (NoOpLogger) Warn(string, ...any)  {}
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
