// Package corelog provides the structured logging abstraction used across
// the runtime. It wraps the standard log package rather than pulling in a
// third-party logging library, matching how the teacher codebase does
// logging throughout its own pkg/core tree.
package corelog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

// Logger is the logging surface every runtime component depends on.
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	// WithFields returns a new logger carrying additional structured fields,
	// e.g. machine_id/version, on every subsequent line.
	WithFields(fields map[string]interface{}) Logger

	// WithContext extracts a request/correlation id from ctx, if present.
	WithContext(ctx context.Context) Logger
}

// Config controls output shape.
type Config struct {
	JSONOutput bool
	Level      string
}

type stdLogger struct {
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
	config      Config
	fields      map[string]interface{}
}

// New creates a logger with the given configuration.
func New(config Config) Logger {
	return &stdLogger{
		errorLogger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger:  log.New(os.Stderr, "[WARN] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(os.Stdout, "[INFO] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
		config:      config,
		fields:      make(map[string]interface{}),
	}
}

// NewDefault returns a plain-text, DEBUG-level logger.
func NewDefault() Logger {
	return New(Config{Level: "DEBUG"})
}

// NewJSON returns a JSON-line logger, suitable for ingestion by a log
// collector in production deployments.
func NewJSON() Logger {
	return New(Config{JSONOutput: true, Level: "DEBUG"})
}

type logEntry struct {
	Timestamp string                 `json:"timestamp,omitempty"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *stdLogger) log(level string, logger *log.Logger, message string) {
	if l.config.JSONOutput {
		entry := logEntry{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Level:     level,
			Message:   message,
			Fields:    l.fields,
		}
		if data, err := json.Marshal(entry); err == nil {
			logger.Output(3, string(data))
			return
		}
		logger.Output(3, fmt.Sprintf("[%s] %s %v", level, message, l.fields))
		return
	}
	if len(l.fields) > 0 {
		logger.Output(3, fmt.Sprintf("%s %v", message, l.fields))
		return
	}
	logger.Output(3, message)
}

func (l *stdLogger) Error(args ...interface{})                 { l.log("ERROR", l.errorLogger, fmt.Sprint(args...)) }
func (l *stdLogger) Errorf(format string, args ...interface{}) { l.log("ERROR", l.errorLogger, fmt.Sprintf(format, args...)) }
func (l *stdLogger) Warn(args ...interface{})                  { l.log("WARN", l.warnLogger, fmt.Sprint(args...)) }
func (l *stdLogger) Warnf(format string, args ...interface{})  { l.log("WARN", l.warnLogger, fmt.Sprintf(format, args...)) }
func (l *stdLogger) Info(args ...interface{})                  { l.log("INFO", l.infoLogger, fmt.Sprint(args...)) }
func (l *stdLogger) Infof(format string, args ...interface{})  { l.log("INFO", l.infoLogger, fmt.Sprintf(format, args...)) }
func (l *stdLogger) Debug(args ...interface{})                 { l.log("DEBUG", l.debugLogger, fmt.Sprint(args...)) }
func (l *stdLogger) Debugf(format string, args ...interface{}) { l.log("DEBUG", l.debugLogger, fmt.Sprintf(format, args...)) }

func (l *stdLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &stdLogger{
		errorLogger: l.errorLogger,
		warnLogger:  l.warnLogger,
		infoLogger:  l.infoLogger,
		debugLogger: l.debugLogger,
		config:      l.config,
		fields:      merged,
	}
}

type correlationIDKey struct{}

// WithCorrelationID attaches an opaque run/correlation id to ctx, retrieved
// later by WithContext. Mirrors the request-id pattern the teacher uses for
// HTTP handlers, generalized to any correlation id (machine run_id included).
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func correlationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return v
	}
	return ""
}

// CorrelationIDFromContext exposes the id WithCorrelationID attached to
// ctx, for callers outside this package that need it verbatim rather than
// folded into a Logger (the transition log's correlation_id column).
func CorrelationIDFromContext(ctx context.Context) string {
	return correlationID(ctx)
}

type debugSessionIDKey struct{}

// WithDebugSessionID attaches the id of the interactive debug/playback
// session (if any) driving the call on ctx, mirroring WithCorrelationID.
func WithDebugSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, debugSessionIDKey{}, id)
}

// DebugSessionIDFromContext returns the id WithDebugSessionID attached to
// ctx, or "" if the call isn't associated with a debug session.
func DebugSessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(debugSessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

func (l *stdLogger) WithContext(ctx context.Context) Logger {
	if id := correlationID(ctx); id != "" {
		return l.WithFields(map[string]interface{}{"correlation_id": id})
	}
	return l
}
