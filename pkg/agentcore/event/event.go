// Package event provides the in-process publish/subscribe bus that every
// agentcore collaborator uses for cross-component notification.
//
// The bus keeps two registries per event name: persistent handlers, which
// survive across publishes, and one-time handlers, which are discarded after
// their first invocation. A publish dispatches to all handlers registered at
// call time, in registration order, persistent before one-time. Handler
// failures are isolated: a failing or panicking handler never prevents its
// siblings from running and never fails the publish.
//
// Supporting pieces:
//   - Registry for declaring event names and validating publishes
//   - DeadLetterQueue for capturing failed deliveries
//   - Redeliverer for replaying failed deliveries, with poison detection
//   - Middleware for cross-cutting concerns on handlers
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope delivered to handlers. The payload shape is a
// convention between publisher and subscribers; the bus enforces no schema
// unless a Registry is configured.
type Event struct {
	// ID uniquely identifies this publish.
	ID string

	// Name is the event name, e.g. "error" or "agent:interaction:completed".
	Name string

	// Timestamp records when the event was published.
	Timestamp time.Time

	// Data is the opaque payload chosen by the publisher.
	Data any

	// Cached serialization (computed lazily)
	cachedBytes []byte
}

// NewEvent creates an envelope for a publish.
func NewEvent(name string, data any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// DataBytes returns the JSON-serialized payload.
// The result is cached for efficiency.
func (e *Event) DataBytes() []byte {
	if e.cachedBytes == nil {
		// Best effort - used for hashing and dead letter capture only
		e.cachedBytes, _ = json.Marshal(e.Data)
	}
	return e.cachedBytes
}

// Handler reacts to events published on a Bus.
type Handler interface {
	// Handle processes one event. A non-nil error marks the delivery as
	// failed; it is logged and captured but never propagated to the
	// publisher.
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt *Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

// TypedHandler wraps a function handling a specific payload type.
// Deliveries whose payload is not T (directly or via JSON round-trip of a
// map payload) fail with an EventError.
func TypedHandler[T any](fn func(ctx context.Context, payload T, evt *Event) error) Handler {
	return HandlerFunc(func(ctx context.Context, evt *Event) error {
		var payload T

		switch d := evt.Data.(type) {
		case T:
			payload = d
		case map[string]any:
			// JSON unmarshal path
			bytes, err := json.Marshal(d)
			if err != nil {
				return &EventError{
					Event:   evt,
					Message: "failed to marshal event data",
					Err:     err,
				}
			}
			if err := json.Unmarshal(bytes, &payload); err != nil {
				return &EventError{
					Event:   evt,
					Message: "failed to unmarshal event data to expected type",
					Err:     err,
				}
			}
		default:
			return &EventError{
				Event:   evt,
				Message: "unexpected payload type",
			}
		}

		return fn(ctx, payload, evt)
	})
}

// Middleware wraps handlers to add cross-cutting concerns.
type Middleware func(next Handler) Handler

// ChainMiddleware applies middleware in order, with first middleware outermost.
func ChainMiddleware(handler Handler, middleware ...Middleware) Handler {
	// Apply in reverse order so first middleware is outermost
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

// LoggingMiddleware reports every delivery to logFn.
func LoggingMiddleware(logFn func(eventName string, duration time.Duration, err error)) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt *Event) error {
			start := time.Now()
			err := next.Handle(ctx, evt)
			logFn(evt.Name, time.Since(start), err)
			return err
		})
	}
}

// FilterMiddleware skips deliveries for which keep returns false.
func FilterMiddleware(keep func(evt *Event) bool) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt *Event) error {
			if !keep(evt) {
				return nil
			}
			return next.Handle(ctx, evt)
		})
	}
}
