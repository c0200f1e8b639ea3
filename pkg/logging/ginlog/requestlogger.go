// Package ginlog logs gin requests through zap.
package ginlog

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type requestLogger struct {
	logger    *zap.Logger
	now       func() time.Time
	skipQuery bool
	headers   []string
}

// Option configures RequestLogger.
type Option func(*requestLogger)

// WithoutQuery drops the raw query from log entries.
func WithoutQuery() Option {
	return func(rl *requestLogger) { rl.skipQuery = true }
}

// WithHeaders logs the values of the named request headers.
func WithHeaders(names ...string) Option {
	return func(rl *requestLogger) { rl.headers = append(rl.headers, names...) }
}

// WithClock sets the time source used for latency.
func WithClock(now func() time.Time) Option {
	return func(rl *requestLogger) { rl.now = now }
}

// RequestLogger returns middleware that attaches a request-scoped logger to
// the context and logs each request once it has been handled.
func RequestLogger(logger *zap.Logger, opts ...Option) gin.HandlerFunc {
	rl := &requestLogger{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(rl)
	}
	return rl.handle
}

// GetRequestLogger returns the logger RequestLogger attached to c.
func GetRequestLogger(c *gin.Context) *zap.Logger {
	if l, ok := c.Get(RequestLoggerKey); ok {
		return l.(*zap.Logger)
	}
	return zap.NewNop()
}

func (rl *requestLogger) handle(c *gin.Context) {
	start := rl.now()
	path := c.Request.URL.EscapedPath()
	query := c.Request.URL.RawQuery
	logged := make([]zap.Field, 0, len(rl.headers))
	for _, name := range rl.headers {
		if v := c.GetHeader(name); v != "" {
			logged = append(logged, zap.String(name, v))
		}
	}

	logger := rl.logger.With(zap.String(RequestIDKey, GetOrCreateRequestID(c)))
	c.Set(RequestLoggerKey, logger)

	c.Next()

	status := c.Writer.Status()
	ce := logger.Check(levelFor(status, len(c.Errors) > 0), "request")
	if ce == nil {
		return
	}
	fields := append([]zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Int("size", c.Writer.Size()),
		zap.Duration("latency", rl.now().Sub(start)),
	}, logged...)
	if !rl.skipQuery && query != "" {
		fields = append(fields, zap.String("query", query))
	}
	if len(c.Errors) > 0 {
		fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
	}
	ce.Write(fields...)
}

func levelFor(status int, failed bool) zapcore.Level {
	switch {
	case failed || status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.DebugLevel
	}
}
