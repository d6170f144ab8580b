/*
Package agentcore provides the event/error coordination core shared by every
component of the agent framework: an in-process publish/subscribe bus and a
centralized error-classification and retry layer.

# Overview

Two services make up the core:

  - event.Bus: named events, persistent and one-time subscriptions, ordered
    fan-out with fault isolation between handlers.
  - errors.Manager: a severity/source error taxonomy, per-source recovery
    handler chains with a framework-level fallback net, and retry with
    exponential backoff. Every handled error is broadcast on the bus so
    telemetry and UI observers can watch failures without participating in
    recovery.

This package is the convenience surface over the process-wide instances.
Collaborators that care about testability should construct and inject their
own event.Bus and errors.Manager instead.

# Basic Usage

	sub := agentcore.Subscribe("agent:interaction:completed",
		event.HandlerFunc(func(ctx context.Context, evt *event.Event) error {
			log.Printf("interaction done: %v", evt.Data)
			return nil
		}))
	defer sub.Unsubscribe()

	agentcore.Publish(ctx, "agent:interaction:completed", result)

Reporting a failure:

	aerr := agentcore.NewError("model call failed",
		errors.WithSource(errors.SourceAdapter),
		errors.WithCause(err))
	agentcore.HandleError(ctx, aerr)

Retrying a fallible operation:

	err := agentcore.Retry(ctx, func(ctx context.Context) error {
		return client.Send(ctx, req)
	}, errors.WithMaxRetries(2))

The core performs no network I/O and keeps no state across process
restarts; it is purely an in-process coordination primitive.
*/
package agentcore
