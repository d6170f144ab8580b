package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest creates a test tracer provider with an in-memory span recorder.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	// Save the original provider
	originalProvider := otel.GetTracerProvider()

	// Set test provider
	otel.SetTracerProvider(tp)

	// Update the package-level tracer
	tracer = otel.Tracer("agentcore")

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}

	return exporter, cleanup
}

func TestStartPublishSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	ctx := context.Background()
	ctx, span := StartPublishSpan(ctx, "agent:started")
	require.NotNil(t, span)

	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "agentcore.publish", s.Name)

	var eventName string
	for _, attr := range s.Attributes {
		if attr.Key == "event" {
			eventName = attr.Value.AsString()
		}
	}
	assert.Equal(t, "agent:started", eventName)
}

func TestStartHandleSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	ctx := context.Background()
	_, span := StartHandleSpan(ctx, "agent", "critical")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "agentcore.handle_error", s.Name)

	var source, severity string
	for _, attr := range s.Attributes {
		switch attr.Key {
		case "source":
			source = attr.Value.AsString()
		case "severity":
			severity = attr.Value.AsString()
		}
	}
	assert.Equal(t, "agent", source)
	assert.Equal(t, "critical", severity)
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	t.Run("records error status", func(t *testing.T) {
		exporter.Reset()

		_, span := StartPublishSpan(context.Background(), "x")
		EndSpanWithError(span, errors.New("dispatch failed"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		require.NotEmpty(t, spans[0].Events)
	})

	t.Run("records ok status", func(t *testing.T) {
		exporter.Reset()

		_, span := StartPublishSpan(context.Background(), "x")
		EndSpanWithError(span, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
	})

	t.Run("nil span is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() {
			EndSpanWithError(nil, errors.New("x"))
		})
	})
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	ctx, span := StartPublishSpan(context.Background(), "x")
	AddSpanEvent(ctx, "handler.invoked", attribute.String("handler", "h1"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	found := false
	for _, evt := range spans[0].Events {
		if evt.Name == "handler.invoked" {
			found = true
		}
	}
	assert.True(t, found, "Expected span event handler.invoked")
}

func TestSpanManagerInterface(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	_, span := sm.StartPublishSpan(context.Background(), "x")
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "agentcore.publish", spans[0].Name)
}
