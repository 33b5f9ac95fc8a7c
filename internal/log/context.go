// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey ctxKey = FieldRequestID
	sessionIDKey ctxKey = FieldSessionID
	cameraKey    ctxKey = FieldCamera
)

// correlation lists the context keys copied onto loggers, in field order.
var correlation = []ctxKey{cameraKey, sessionIDKey, requestIDKey}

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

func value(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// ContextWithRequestID stores the HTTP request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// ContextWithSessionID stores the upload session ID in the context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return withValue(ctx, sessionIDKey, id)
}

// ContextWithCamera stores the camera name in the context.
func ContextWithCamera(ctx context.Context, name string) context.Context {
	return withValue(ctx, cameraKey, name)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string { return value(ctx, requestIDKey) }

// SessionIDFromContext extracts the upload session ID from context if present.
func SessionIDFromContext(ctx context.Context) string { return value(ctx, sessionIDKey) }

// CameraFromContext extracts the camera name from context if present.
func CameraFromContext(ctx context.Context) string { return value(ctx, cameraKey) }

// WithContext enriches logger with the correlation fields found in ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	for _, key := range correlation {
		if v := value(ctx, key); v != "" {
			builder = builder.Str(string(key), v)
			added = true
		}
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a logger that is annotated with the component
// name and enriched with correlation fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}

// FromContext returns the logger attached to ctx by zerolog, or the base
// logger enriched with ctx's correlation fields.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	l := WithContext(ctx, Base())
	return &l
}
