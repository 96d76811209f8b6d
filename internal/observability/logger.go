package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig selects the level and encoding of the process logger
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// NewLogger builds the process logger. json uses the production encoder,
// text uses the development console encoder.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zcfg = zap.NewProductionConfig()
	case "text", "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: use json or text", cfg.Format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

// FromContext returns base annotated with the request ID carried by ctx,
// if any.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		return base.With(zap.String("request_id", reqID))
	}
	return base
}
