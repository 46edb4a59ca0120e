// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"
	// LocationIDKey is the context key for the tenant location ID
	LocationIDKey contextKey = "location_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger writing to w. Tests pass io.Discard.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") || strings.EqualFold(env, "test") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithWriter("test", io.Discard)
}

// WithContext returns a logger with context values extracted.
// Supports request_id, user_id, and location_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		newLogger = newLogger.WithUserID(userID)
	}

	if locationID, ok := ctx.Value(LocationIDKey).(string); ok && locationID != "" {
		newLogger = newLogger.WithLocation(locationID)
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// WithUserID returns a logger with user ID
func (l *Logger) WithUserID(userID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("user_id", userID)),
	}
}

// WithLocation returns a logger scoped to a tenant location
func (l *Logger) WithLocation(locationID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("location_id", locationID)),
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

// HTTPError logs an HTTP error
func (l *Logger) HTTPError(method, path string, status int, err error, clientIP string) {
	l.Error("http_error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
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

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}

// RuleMatchError logs a condition that could not be evaluated
func (l *Logger) RuleMatchError(ruleID, field, operator, reason string) {
	l.Warn("automation_match_error",
		slog.String("rule_id", ruleID),
		slog.String("field", field),
		slog.String("operator", operator),
		slog.String("reason", reason),
	)
}

// ActionFailed logs a single failed automation action
func (l *Logger) ActionFailed(ruleID, actionType string, index int, err error) {
	l.Warn("automation_action_failed",
		slog.String("rule_id", ruleID),
		slog.String("action", actionType),
		slog.Int("index", index),
		slog.String("error", err.Error()),
	)
}

// QueueItemDeadLettered logs a queue item that exhausted its retries
func (l *Logger) QueueItemDeadLettered(itemID, ruleID string, attempts int, lastError string) {
	l.Error("automation_dead_lettered",
		slog.String("queue_item_id", itemID),
		slog.String("rule_id", ruleID),
		slog.Int("attempts", attempts),
		slog.String("last_error", lastError),
	)
}

// StaleAnchorSkipped logs a scheduled trigger discarded due to a newer anchor
func (l *Logger) StaleAnchorSkipped(triggerID, entityID string, triggerVersion, liveVersion int64) {
	l.Info("automation_stale_anchor",
		slog.String("trigger_id", triggerID),
		slog.String("entity_id", entityID),
		slog.Int64("trigger_version", triggerVersion),
		slog.Int64("live_version", liveVersion),
	)
}
