// Package observability provides structured logging, metrics, and tracing
// for agentcore: the event bus and the error coordination layer.
//
// Features:
//   - Structured logging via slog (Go stdlib) with an optional colorized
//     development handler (tint)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger creates a logger for agentcore components.
// With pretty enabled it uses a colorized text handler suitable for
// development; otherwise it emits JSON for log aggregation.
func NewLogger(level slog.Level, pretty bool) *slog.Logger {
	if pretty {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// EnrichLogger adds event dispatch context to a logger.
// Returns a new logger with event and handler fields.
func EnrichLogger(logger *slog.Logger, eventName, handler string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event", eventName),
		slog.String("handler", handler),
	)
}

// LogPublish logs an event publish with its fan-out size.
func LogPublish(logger *slog.Logger, eventName string, handlerCount int) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event", eventName),
		slog.Int("handlers", handlerCount),
	)
}

// LogHandlerError logs a failed handler invocation (non-fatal).
func LogHandlerError(logger *slog.Logger, eventName, handler string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event handler failed",
		slog.String("event", eventName),
		slog.String("handler", handler),
		slog.String("error", err.Error()),
	)
}

// LogErrorHandled logs the outcome of an error passing through the
// handler chains.
func LogErrorHandled(logger *slog.Logger, source, severity string, recovered bool) {
	if logger == nil {
		return
	}
	logger.Info("error handled",
		slog.String("source", source),
		slog.String("severity", severity),
		slog.Bool("recovered", recovered),
	)
}

// LogRetryAttempt logs a failed attempt and the backoff before the next one.
func LogRetryAttempt(logger *slog.Logger, attempt int, delay time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Debug("retrying after failure",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
}

// LogRetryExhausted logs a retry loop that ran out of attempts.
func LogRetryExhausted(logger *slog.Logger, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("retries exhausted",
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
