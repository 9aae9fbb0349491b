// Package logger wraps log/slog with the pipeline's event vocabulary:
// HTTP access lines, stage transitions, maintenance steps and store errors.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	// RequestIDKey carries the X-Request-ID on a request context.
	RequestIDKey contextKey = "request_id"
	// UserIDKey carries the authenticated actor's id on a request context.
	UserIDKey contextKey = "user_id"
)

// Logger is a slog.Logger with domain helpers.
type Logger struct {
	*slog.Logger
}

// New logs to stdout: text at debug level in development, JSON at info
// level elsewhere. LOG_LEVEL overrides the level.
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(env string, w io.Writer) *Logger {
	dev := strings.EqualFold(env, "development")
	opts := &slog.HandlerOptions{Level: level(os.Getenv("LOG_LEVEL"), dev)}

	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

func level(raw string, dev bool) slog.Level {
	var l slog.Level
	if raw != "" && l.UnmarshalText([]byte(raw)) == nil {
		return l
	}
	if dev {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// WithContext adds the request and user ids found on ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	var attrs []any
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if id, ok := ctx.Value(UserIDKey).(string); ok && id != "" {
		attrs = append(attrs, slog.String("user_id", id))
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{Logger: l.With(attrs...)}
}

func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

func (l *Logger) HTTPError(method, path string, status int, err error, clientIP string) {
	l.Error("http_error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("client_ip", clientIP),
	)
}

// TransitionEvent records one stage-change attempt. Rejections log at warn
// with the failure category.
func (l *Logger) TransitionEvent(dealID, fromStage, toStage, transitionType string, success bool, failure string) {
	attrs := []any{
		slog.String("deal_id", dealID),
		slog.String("from_stage", fromStage),
		slog.String("to_stage", toStage),
		slog.Bool("success", success),
	}
	if transitionType != "" {
		attrs = append(attrs, slog.String("type", transitionType))
	}
	if success {
		l.Info("deal_transition", attrs...)
		return
	}
	l.Warn("deal_transition", append(attrs, slog.String("failure", failure))...)
}

// MaintenanceStep records a finished maintenance step.
func (l *Logger) MaintenanceStep(jobID, step, status string, processed, failed int, durationMs int64) {
	lvl := slog.LevelInfo
	if failed > 0 {
		lvl = slog.LevelWarn
	}
	l.Log(context.Background(), lvl, "maintenance_step",
		slog.String("job_id", jobID),
		slog.String("step", step),
		slog.String("status", status),
		slog.Int("processed", processed),
		slog.Int("failed", failed),
		slog.Int64("duration_ms", durationMs),
	)
}

func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded records a throttled request; key is the caller bucket.
func (l *Logger) RateLimitExceeded(key, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("key", key),
		slog.String("path", path),
	)
}
