package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if id := DestinationIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("destination.id", id))
	}

	return fields
}

type requestCtxKey struct{}
type runCtxKey struct{}
type destinationCtxKey struct{}

const maxIDLen = 128

// Destination ids contain a colon ("hec:1").
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9:_-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && utf8.ValidString(id) && idPattern.MatchString(id)
}

// withID stores id under key. Malformed ids (possibly caller supplied) are dropped.
func withID(ctx context.Context, key any, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFromContext(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithRequestID adds the HTTP request id to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext extracts the request id from context.
func RequestIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, requestCtxKey{})
}

// WithRunID adds a delivery run id to context.
func WithRunID(ctx context.Context, id string) context.Context {
	return withID(ctx, runCtxKey{}, id)
}

// RunIDFromContext extracts the delivery run id from context.
func RunIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, runCtxKey{})
}

// WithDestinationID adds a destination id to context.
func WithDestinationID(ctx context.Context, id string) context.Context {
	return withID(ctx, destinationCtxKey{}, id)
}

// DestinationIDFromContext extracts the destination id from context.
func DestinationIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, destinationCtxKey{})
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger if none was stored.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
