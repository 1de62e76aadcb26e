package observability

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/houseofkezura/backend-sub000/internal/platform/requestctx"
)

// NewLogger builds the process logger. Output is Cloud Logging JSON unless LOG_FORMAT=console;
// LOG_LEVEL picks the minimum level and defaults to info.
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			return nil, fmt.Errorf("observability: invalid LOG_LEVEL %q: %w", raw, err)
		}
	}

	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = level
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}

// PrintfAdapter adapts zap to printf-style logging interfaces.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

// NewPrintfAdapter creates a PrintfAdapter backed by the supplied logger.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

// Printf implements the Printf-style logging expected by legacy interfaces.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Infof(format, args...)
}

// EventLogger adapts zap to the event-style logger func accepted by services and payment
// processors. Entries go to the request logger when the context carries one so request and
// trace ids are attached; a "severity" field of "error" or "warn" raises the level.
func EventLogger(base *zap.Logger, component string) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	named := base.Named(component)
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := named
		if reqLogger, ok := requestctx.LoggerOK(ctx); ok {
			logger = reqLogger.Named(component)
		}

		level := zapcore.DebugLevel
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			if k == "severity" {
				if s, ok := v.(string); ok {
					level = eventLevel(s)
				}
				continue
			}
			if err, ok := v.(error); ok {
				zFields = append(zFields, zap.NamedError(k, err))
				continue
			}
			zFields = append(zFields, zap.Any(k, v))
		}
		if ce := logger.Check(level, component+" event"); ce != nil {
			ce.Write(zFields...)
		}
	}
}

func eventLevel(severity string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "error":
		return zapcore.ErrorLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "info":
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
