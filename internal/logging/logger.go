// Package logging provides structured logging utilities.
package logging

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewLogger creates a new zerolog logger configured for the service.
func NewLogger(serviceName string, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// NewPrettyLogger creates a logger with pretty console output (for development).
func NewPrettyLogger(serviceName string, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(consoleWriter).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// RequestLogger returns a Gin middleware for HTTP request logging.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		event := logger.Debug()
		if statusCode >= 400 && statusCode < 500 {
			event = logger.Warn()
		} else if statusCode >= 500 {
			event = logger.Error()
		}

		event.
			Str("type", "http_request").
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", statusCode).
			Str("clientIp", c.ClientIP()).
			Dur("latency", latency).
			Int("bodySize", c.Writer.Size())

		if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
			event.Str("requestId", requestID)
		}

		if len(c.Errors) > 0 {
			event.Str("error", c.Errors.String())
		}

		event.Msg("HTTP request")
	}
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// LoggerFromContext extracts the logger from context.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	return *zerolog.Ctx(ctx)
}

// LockLogger creates a logger specifically for lock operations. The lock
// name is added by the lock itself.
func LockLogger(logger zerolog.Logger, owner string, backend string) zerolog.Logger {
	return logger.With().
		Str("owner", owner).
		Str("backend", backend).
		Logger()
}

// ElectionLogger creates a logger specifically for election operations.
func ElectionLogger(logger zerolog.Logger, election string, instanceID string) zerolog.Logger {
	return logger.With().
		Str("election", election).
		Str("instance", instanceID).
		Logger()
}

// Transport wraps an http.RoundTripper and logs every outgoing request to
// the lock service at debug level, and failed ones at warn.
func Transport(logger zerolog.Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingTransport{logger: logger, next: next}
}

type loggingTransport struct {
	logger zerolog.Logger
	next   http.RoundTripper
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	rsp, err := t.next.RoundTrip(r)

	latency := time.Since(start)

	event := t.logger.Debug()
	if err != nil || rsp.StatusCode >= 500 {
		event = t.logger.Warn()
	}

	event.
		Str("type", "lock_service_request").
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Dur("latency", latency)

	if err != nil {
		event.Err(err)
	} else {
		event.Int("status", rsp.StatusCode)
	}

	event.Msg("lock service request")

	return rsp, err
}
