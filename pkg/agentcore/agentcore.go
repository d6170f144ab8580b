package agentcore

import (
	"context"

	"github.com/agentfoundry/agentcore/pkg/agentcore/errors"
	"github.com/agentfoundry/agentcore/pkg/agentcore/event"
)

// Bus returns the shared process-wide event bus.
func Bus() *event.Bus {
	return event.Default()
}

// Errors returns the shared process-wide error manager.
func Errors() *errors.Manager {
	return errors.Default()
}

// Subscribe registers a persistent handler on the shared bus.
func Subscribe(name string, handler event.Handler) *event.Subscription {
	return event.Default().Subscribe(name, handler)
}

// SubscribeOnce registers a one-time handler on the shared bus.
func SubscribeOnce(name string, handler event.Handler) *event.Subscription {
	return event.Default().SubscribeOnce(name, handler)
}

// Publish dispatches an event on the shared bus.
func Publish(ctx context.Context, name string, data any) {
	event.Default().Publish(ctx, name, data)
}

// NewError creates a normalized error. Defaults: SeverityError,
// SourceFramework.
func NewError(message string, opts ...errors.ErrorOption) *errors.AgentError {
	return errors.New(message, opts...)
}

// HandleError runs an error through the shared manager's recovery chains
// and broadcasts it on the shared bus. It never fails.
func HandleError(ctx context.Context, aerr *errors.AgentError) {
	errors.Default().HandleError(ctx, aerr)
}

// Retry executes fn with the shared manager's default retry options merged
// with the given overrides.
func Retry(ctx context.Context, fn func(context.Context) error, opts ...errors.RetryOption) error {
	return errors.Default().Retry(ctx, fn, opts...)
}
