// Package logger builds the zap logger used across the wager engine and
// provides typed field helpers so log keys stay consistent between packages.
package logger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string

	// Encoding is "json" or "console".
	Encoding string

	// Development enables stack traces on warn and DPanic panics.
	Development bool

	// DisableCaller drops the caller annotation.
	DisableCaller bool

	// Sampling enables zap's default sampling (100 initial, 100 thereafter).
	Sampling bool
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Level:    "info",
		Encoding: "json",
	}
}

// New builds a zap logger writing to stdout.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoding := opts.Encoding
	if encoding != "console" {
		encoding = "json"
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      opts.Development,
		Encoding:         encoding,
		DisableCaller:    opts.DisableCaller,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if encoding == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if opts.Sampling {
		zc.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	return zc.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext stores the logger in ctx.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN FIELDS
// ══════════════════════════════════════════════════════════════════════════════

func Component(name string) zap.Field      { return zap.String("component", name) }
func Operation(name string) zap.Field      { return zap.String("operation", name) }
func UserID(id string) zap.Field           { return zap.String("user_id", id) }
func ExternalID(id string) zap.Field       { return zap.String("external_id", id) }
func AdminID(id string) zap.Field          { return zap.String("admin_id", id) }
func AdjustmentID(id string) zap.Field     { return zap.String("adjustment_id", id) }
func SyncLogID(id string) zap.Field        { return zap.String("sync_log_id", id) }
func Timeframe(tf string) zap.Field        { return zap.String("timeframe", tf) }
func Page(n int) zap.Field                 { return zap.Int("page", n) }
func CacheKey(key string) zap.Field        { return zap.String("cache_key", key) }
func Latency(d time.Duration) zap.Field    { return zap.Duration("latency", d) }
func RequestID(id string) zap.Field        { return zap.String("request_id", id) }
func RetryAfter(d time.Duration) zap.Field { return zap.Duration("retry_after", d) }
