// Package logging provides the process-wide structured logger.
//
// Per spec §6 the logger must never sit in the data path of game payloads:
// callers in the signaling package log payload length and room/sender
// metadata, never payload contents.
package logging

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	AppIDKey         contextKey = "app_id"
	RoomIDKey        contextKey = "room_id"
	PlayerIDKey      contextKey = "player_id"
)

// Initialize sets up the global logger based on the environment. Safe to
// call multiple times; only the first call takes effect.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var config zap.Config
		if development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config = zap.NewProductionConfig()
			config.EncoderConfig.TimeKey = "timestamp"
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		// Common configuration
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}

		logger, err = config.Build(zap.AddCallerSkip(1))
	})
	return err
}

// GetLogger returns the global logger instance, falling back to a
// development logger if Initialize was never called (e.g. in tests).
func GetLogger() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Info logs a message at InfoLevel
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs a message at WarnLevel
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs a message at ErrorLevel
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

// Fatal logs a message at FatalLevel
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}

	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if aid, ok := ctx.Value(AppIDKey).(string); ok {
		fields = append(fields, zap.String("app_id", aid))
	}
	if rid, ok := ctx.Value(RoomIDKey).(string); ok {
		fields = append(fields, zap.String("room_id", rid))
	}
	if pid, ok := ctx.Value(PlayerIDKey).(string); ok {
		fields = append(fields, zap.String("player_id", pid))
	}

	// Default service name
	fields = append(fields, zap.String("service", "signal-server"))

	return fields
}

// WithCorrelationID returns a child context carrying the correlation id, for
// threading through the middleware package into handler-level logging.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithRoomID returns a child context carrying the room id.
func WithRoomID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RoomIDKey, id)
}

// WithAppID returns a child context carrying the authenticated application id.
func WithAppID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, AppIDKey, id)
}

// RedactEmail masks the local part of an email address for logging, keeping
// the domain ("user@example.com" -> "***@example.com"). A string without an
// "@" is masked entirely; an empty string stays empty.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***"
	}
	return "***" + email[at:]
}
