// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// JobIDKey is the context key for the broker job ID
	JobIDKey contextKey = "job_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and job_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if jobID, ok := ctx.Value(JobIDKey).(string); ok && jobID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("job_id", jobID))}
	}

	return newLogger
}

// WithStage returns a logger scoped to a pipeline stage.
func (l *Logger) WithStage(stage string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("stage", stage)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// GatewayError logs external gateway failures (telephony, chat, CRM).
func (l *Logger) GatewayError(gateway, operation string, err error) {
	l.Error("gateway_error",
		slog.String("gateway", gateway),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// StageEvent logs a pipeline stage decision for a target.
func (l *Logger) StageEvent(stage, event, targetID string, attempt int) {
	l.Info("stage_event",
		slog.String("stage", stage),
		slog.String("event", event),
		slog.String("target_id", targetID),
		slog.Int("attempt", attempt),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(scope, detail string) {
	l.Warn("rate_limit_exceeded",
		slog.String("scope", scope),
		slog.String("detail", detail),
	)
}
