package agentcore_test

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentfoundry/agentcore/pkg/agentcore"
	"github.com/agentfoundry/agentcore/pkg/agentcore/errors"
	"github.com/agentfoundry/agentcore/pkg/agentcore/event"
)

// resetShared clears the shared bus and manager between tests.
func resetShared() {
	agentcore.Bus().Clear()
	agentcore.Errors().Clear()
}

func TestSharedInstances(t *testing.T) {
	if agentcore.Bus() != event.Default() {
		t.Error("expected the facade to expose the default bus")
	}
	if agentcore.Errors() != errors.Default() {
		t.Error("expected the facade to expose the default manager")
	}
	if agentcore.Errors().Bus() != agentcore.Bus() {
		t.Error("expected the default manager to publish on the default bus")
	}
}

func TestPublishSubscribe(t *testing.T) {
	resetShared()

	var received atomic.Int32
	sub := agentcore.Subscribe("agent:started", event.HandlerFunc(func(ctx context.Context, evt *event.Event) error {
		received.Add(1)
		return nil
	}))
	defer sub.Unsubscribe()

	var once atomic.Int32
	agentcore.SubscribeOnce("agent:started", event.HandlerFunc(func(ctx context.Context, evt *event.Event) error {
		once.Add(1)
		return nil
	}))

	agentcore.Publish(context.Background(), "agent:started", nil)
	agentcore.Publish(context.Background(), "agent:started", nil)

	if received.Load() != 2 {
		t.Errorf("expected 2 persistent deliveries, got %d", received.Load())
	}
	if once.Load() != 1 {
		t.Errorf("expected 1 one-time delivery, got %d", once.Load())
	}
}

func TestErrorFlow(t *testing.T) {
	resetShared()

	// A recovery handler for adapter errors and an observer on the bus.
	var recoveredSource errors.Source
	reg := agentcore.Errors().RegisterHandler(errors.SourceAdapter,
		func(ctx context.Context, aerr *errors.AgentError) (bool, error) {
			recoveredSource = aerr.Source
			return true, nil
		})
	defer reg.Unregister()

	var observed []string
	sub := agentcore.Subscribe(errors.ErrorEvent, event.HandlerFunc(func(ctx context.Context, evt *event.Event) error {
		aerr, ok := evt.Data.(*errors.AgentError)
		if !ok {
			t.Error("expected *AgentError payload on the error event")
			return nil
		}
		observed = append(observed, aerr.Message)
		return nil
	}))
	defer sub.Unsubscribe()

	aerr := agentcore.NewError("rate limited",
		errors.WithSource(errors.SourceAdapter),
		errors.WithSeverity(errors.SeverityWarning))
	agentcore.HandleError(context.Background(), aerr)

	if recoveredSource != errors.SourceAdapter {
		t.Errorf("expected adapter chain to run, got source %q", recoveredSource)
	}
	if !aerr.Handled() {
		t.Error("expected error to be marked handled")
	}
	if len(observed) != 1 || observed[0] != "rate limited" {
		t.Errorf("expected the error broadcast to observers, got %v", observed)
	}
}

func TestRetryFacade(t *testing.T) {
	resetShared()

	var calls int
	err := agentcore.Retry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return stderrors.New("transient")
		}
		return nil
	}, errors.WithMaxRetries(3), errors.WithInitialDelay(time.Millisecond))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected success on the second attempt, got %d calls", calls)
	}
}
