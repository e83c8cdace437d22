// Package logger provides structured, leveled logging with console and
// rotated file backends.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the main interface for logging throughout the application
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})

	DebugContext(ctx context.Context, msg string, args ...interface{})
	InfoContext(ctx context.Context, msg string, args ...interface{})
	WarnContext(ctx context.Context, msg string, args ...interface{})
	ErrorContext(ctx context.Context, msg string, args ...interface{})

	// WithFields returns a logger with additional fields
	WithFields(fields map[string]interface{}) Logger

	// WithComponent returns a logger tagged with a component
	WithComponent(component Component) Logger

	// WithSource returns a logger tagged with a log source
	WithSource(source LogSource) Logger

	// Close flushes and closes all log destinations
	Close() error
}

// LogEntry represents a single log entry with all metadata
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Component Component              `json:"component,omitempty"`
	Source    LogSource              `json:"log_source,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	TriggerID string                 `json:"trigger_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type contextKey string

const (
	triggerIDKey contextKey = "trigger_id"
	runIDKey     contextKey = "run_id"
)

// WithRun tags ctx so that entries logged with it carry the trigger and run ids
func WithRun(ctx context.Context, triggerID, runID string) context.Context {
	ctx = context.WithValue(ctx, triggerIDKey, triggerID)
	return context.WithValue(ctx, runIDKey, runID)
}

// RunFromContext returns the trigger and run ids set by WithRun, or empty strings
func RunFromContext(ctx context.Context) (triggerID, runID string) {
	triggerID, _ = ctx.Value(triggerIDKey).(string)
	runID, _ = ctx.Value(runIDKey).(string)
	return triggerID, runID
}

// sink is one log destination
type sink interface {
	write(entry *LogEntry)
	Close() error
}

// MultiLogger implements Logger by dispatching to every configured sink
type MultiLogger struct {
	config    *Config
	sinks     []sink
	fields    map[string]interface{}
	component Component
	source    LogSource
}

// NewLogger creates a logger for the configured tiers.
// A file tier that cannot be opened is reported on stderr and skipped.
func NewLogger(config *Config) (*MultiLogger, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger config: %w", err)
	}

	ml := &MultiLogger{config: config}

	if config.Console.Enabled {
		ml.sinks = append(ml.sinks, NewConsoleLogger(config))
	}

	if config.File.Enabled {
		file, err := NewFileLogger(config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to create file logger: %v\n", err)
		} else {
			ml.sinks = append(ml.sinks, file)
		}
	}

	return ml, nil
}

func (ml *MultiLogger) Debug(msg string, args ...interface{}) {
	ml.log(context.Background(), LevelDebug, msg, args)
}

func (ml *MultiLogger) Info(msg string, args ...interface{}) {
	ml.log(context.Background(), LevelInfo, msg, args)
}

func (ml *MultiLogger) Warn(msg string, args ...interface{}) {
	ml.log(context.Background(), LevelWarn, msg, args)
}

func (ml *MultiLogger) Error(msg string, args ...interface{}) {
	ml.log(context.Background(), LevelError, msg, args)
}

func (ml *MultiLogger) DebugContext(ctx context.Context, msg string, args ...interface{}) {
	ml.log(ctx, LevelDebug, msg, args)
}

func (ml *MultiLogger) InfoContext(ctx context.Context, msg string, args ...interface{}) {
	ml.log(ctx, LevelInfo, msg, args)
}

func (ml *MultiLogger) WarnContext(ctx context.Context, msg string, args ...interface{}) {
	ml.log(ctx, LevelWarn, msg, args)
}

func (ml *MultiLogger) ErrorContext(ctx context.Context, msg string, args ...interface{}) {
	ml.log(ctx, LevelError, msg, args)
}

// WithFields returns a new logger with additional fields
func (ml *MultiLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(ml.fields)+len(fields))
	for k, v := range ml.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	child := ml.clone()
	child.fields = merged
	return child
}

// WithComponent returns a new logger tagged with a component
func (ml *MultiLogger) WithComponent(component Component) Logger {
	child := ml.clone()
	child.component = component
	return child
}

// WithSource returns a new logger tagged with a log source
func (ml *MultiLogger) WithSource(source LogSource) Logger {
	child := ml.clone()
	child.source = source
	return child
}

func (ml *MultiLogger) clone() *MultiLogger {
	c := *ml
	return &c
}

// Close flushes and closes every sink. Derived loggers share sinks with
// their parent, so only the root logger should be closed.
func (ml *MultiLogger) Close() error {
	var errs []error
	for _, s := range ml.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing logger: %w", errors.Join(errs...))
	}
	return nil
}

func (ml *MultiLogger) enabled(level LogLevel) bool {
	return level.rank() >= ml.config.Level.rank()
}

func (ml *MultiLogger) log(ctx context.Context, level LogLevel, msg string, args []interface{}) {
	if !ml.enabled(level) || len(ml.sinks) == 0 {
		return
	}

	entry := &LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   msg,
		Component: ml.component,
		Source:    ml.source,
		Fields:    make(map[string]interface{}, len(ml.fields)+len(args)/2),
	}
	for k, v := range ml.fields {
		entry.Fields[k] = v
	}

	// Variadic args are key/value pairs; a trailing key without a value is kept under "!BADKEY".
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			entry.Fields["!BADKEY"] = key
			break
		}
		entry.Fields[key] = args[i+1]
	}

	if ctx != nil {
		if v, ok := ctx.Value(triggerIDKey).(string); ok {
			entry.TriggerID = v
		}
		if v, ok := ctx.Value(runIDKey).(string); ok {
			entry.RunID = v
		}
	}
	if err, ok := entry.Fields["error"]; ok && err != nil {
		entry.Error = fmt.Sprint(err)
	}

	for _, s := range ml.sinks {
		s.write(entry)
	}
}

// NoOpLogger is a logger that does nothing (for testing)
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{})                            {}
func (n *NoOpLogger) Info(msg string, args ...interface{})                             {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})                             {}
func (n *NoOpLogger) Error(msg string, args ...interface{})                            {}
func (n *NoOpLogger) DebugContext(ctx context.Context, msg string, args ...interface{}) {}
func (n *NoOpLogger) InfoContext(ctx context.Context, msg string, args ...interface{})  {}
func (n *NoOpLogger) WarnContext(ctx context.Context, msg string, args ...interface{})  {}
func (n *NoOpLogger) ErrorContext(ctx context.Context, msg string, args ...interface{}) {}
func (n *NoOpLogger) WithFields(fields map[string]interface{}) Logger                  { return n }
func (n *NoOpLogger) WithComponent(component Component) Logger                         { return n }
func (n *NoOpLogger) WithSource(source LogSource) Logger                               { return n }
func (n *NoOpLogger) Close() error                                                     { return nil }

var _ Logger = (*NoOpLogger)(nil)

var (
	defaultLogger Logger = &NoOpLogger{}
	loggerMu      sync.RWMutex
)

// SetDefault sets the global default logger
func SetDefault(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = l
}

// Default returns the global default logger
func Default() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }

// Writer adapts a Logger to io.Writer, one entry per Write
type Writer struct {
	logger Logger
	level  LogLevel
}

// NewWriter returns an io.Writer logging at level. Used to route the
// standard library's log package through the structured logger.
func NewWriter(logger Logger, level LogLevel) io.Writer {
	return &Writer{logger: logger, level: level}
}

func (w *Writer) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	switch w.level {
	case LevelDebug:
		w.logger.Debug(msg)
	case LevelWarn:
		w.logger.Warn(msg)
	case LevelError:
		w.logger.Error(msg)
	default:
		w.logger.Info(msg)
	}
	return len(p), nil
}
