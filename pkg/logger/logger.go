// Package logger wraps zerolog with the service-wide defaults: JSON output
// in production, console output in development, and request-scoped fields
// pulled from context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyTenantID  ctxKey = "tenant_id"
)

var (
	base zerolog.Logger
	once sync.Once
)

// Init configures the package logger. env selects the output format:
// "development" uses a human readable console writer, anything else
// emits JSON lines. Safe to call multiple times.
func Init(service, level, env string) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			lvl = zerolog.InfoLevel
		}

		var out io.Writer = os.Stdout
		if env == "development" {
			out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		}
		base = zerolog.New(out).Level(lvl).With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

// L returns the configured logger, initializing with defaults if needed.
func L() *zerolog.Logger {
	once.Do(func() {
		base = zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().
			Timestamp().
			Str("service", "schedsync").
			Logger()
	})
	return &base
}

// WithContext returns a logger enriched with request-scoped fields found
// in ctx (request id, tenant id).
func WithContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return L()
	}
	c := L().With()
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok && v != "" {
		c = c.Str("request_id", v)
	}
	if v, ok := ctx.Value(ctxKeyTenantID).(string); ok && v != "" {
		c = c.Str("tenant_id", v)
	}
	lg := c.Logger()
	return &lg
}

// ContextWithRequestID attaches a request id to ctx for WithContext.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// ContextWithTenantID attaches a tenant id to ctx for WithContext.
func ContextWithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenantID, tenantID)
}
