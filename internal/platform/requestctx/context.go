// Package requestctx carries the per-request logger and trace through context.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	traceKey
)

var nop = zap.NewNop()

// Trace identifies the span serving a request.
type Trace struct {
	TraceID string
	SpanID  string
	Sampled bool
	// Project is the Google Cloud project the trace belongs to, when known.
	Project string
}

// Resource is the Cloud Logging trace reference, empty unless both ids are known.
func (t Trace) Resource() string {
	if t.Project == "" || t.TraceID == "" {
		return ""
	}
	return "projects/" + t.Project + "/traces/" + t.TraceID
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := LoggerOK(ctx); ok {
		return logger
	}
	return nop
}

// LoggerOK reports whether ctx carries a request logger.
func LoggerOK(ctx context.Context) (*zap.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	return logger, ok && logger != nil
}

func WithTrace(ctx context.Context, trace Trace) context.Context {
	return context.WithValue(ctx, traceKey, trace)
}

func TraceFrom(ctx context.Context) (Trace, bool) {
	if ctx == nil {
		return Trace{}, false
	}
	trace, ok := ctx.Value(traceKey).(Trace)
	return trace, ok
}

// TraceID is shorthand for TraceFrom(ctx).TraceID.
func TraceID(ctx context.Context) string {
	trace, _ := TraceFrom(ctx)
	return trace.TraceID
}
