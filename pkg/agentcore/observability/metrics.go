package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records agentcore metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records an event publish with its fan-out size.
	RecordPublish(ctx context.Context, eventName string, handlerCount int)

	// RecordDelivery records a single handler invocation with its duration
	// and error status.
	RecordDelivery(ctx context.Context, eventName string, duration time.Duration, err error)

	// RecordErrorHandled records an error passing through the handler chains.
	RecordErrorHandled(ctx context.Context, source, severity string, recovered bool)

	// RecordRetry records a completed retry loop.
	RecordRetry(ctx context.Context, attempts int, success bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsPublished metric.Int64Counter
	handlerLatency  metric.Float64Histogram
	handlerErrors   metric.Int64Counter
	errorsHandled   metric.Int64Counter
	retryAttempts   metric.Int64Histogram
	retryFailures   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("agentcore")

	eventsPublished, err := meter.Int64Counter("agentcore.events.published",
		metric.WithDescription("Number of events published on the bus"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("agentcore.handler.latency_ms",
		metric.WithDescription("Event handler invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("agentcore.handler.errors",
		metric.WithDescription("Number of failed event handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	errorsHandled, err := meter.Int64Counter("agentcore.errors.handled",
		metric.WithDescription("Number of errors processed by the handler chains"),
	)
	if err != nil {
		return nil, err
	}

	retryAttempts, err := meter.Int64Histogram("agentcore.retry.attempts",
		metric.WithDescription("Attempts used per retry loop"),
	)
	if err != nil {
		return nil, err
	}

	retryFailures, err := meter.Int64Counter("agentcore.retry.failures",
		metric.WithDescription("Number of retry loops that exhausted all attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		eventsPublished: eventsPublished,
		handlerLatency:  handlerLatency,
		handlerErrors:   handlerErrors,
		errorsHandled:   errorsHandled,
		retryAttempts:   retryAttempts,
		retryFailures:   retryFailures,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records an event publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventName string, handlerCount int) {
	attrs := []attribute.KeyValue{
		attribute.String("event", eventName),
	}
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attrs...))
	_ = handlerCount // fan-out size is carried on the latency stream per delivery
}

// RecordDelivery records a single handler invocation.
func (m *otelMetrics) RecordDelivery(ctx context.Context, eventName string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event", eventName),
	}
	m.handlerLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.handlerErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordErrorHandled records an error passing through the handler chains.
func (m *otelMetrics) RecordErrorHandled(ctx context.Context, source, severity string, recovered bool) {
	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.String("severity", severity),
		attribute.Bool("recovered", recovered),
	}
	m.errorsHandled.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRetry records a completed retry loop.
func (m *otelMetrics) RecordRetry(ctx context.Context, attempts int, success bool) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.retryAttempts.Record(ctx, int64(attempts), metric.WithAttributes(attrs...))
	if !success {
		m.retryFailures.Add(ctx, 1)
	}
}
