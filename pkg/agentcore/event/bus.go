package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agentfoundry/agentcore/pkg/agentcore/observability"
)

// BusConfig configures bus behavior.
type BusConfig struct {
	// Logger receives dispatch diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Metrics records publish and delivery metrics. Default: no-op.
	Metrics observability.MetricsRecorder

	// Spans traces publish fan-out. Default: no-op.
	Spans observability.SpanManager

	// Registry enables event name validation when ValidateEvents is set.
	Registry *Registry

	// ValidateEvents drops publishes that fail Registry validation.
	ValidateEvents bool

	// DLQ captures failed deliveries (optional).
	DLQ DeadLetterQueue

	// OnError is called for every failed delivery, after logging and
	// dead letter capture.
	OnError func(evt *Event, handler string, err error)
}

// Bus is the in-process publish/subscribe registry.
//
// Registries are guarded by a mutex; dispatch iterates over a snapshot taken
// under the lock, so handlers that subscribe or unsubscribe mid-dispatch
// cannot corrupt an in-progress publish.
type Bus struct {
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	registry *Registry
	validate bool
	dlq      DeadLetterQueue
	onError  func(evt *Event, handler string, err error)

	mu         sync.Mutex
	persistent map[string][]*Subscription
	oneTime    map[string][]*Subscription
	middleware []Middleware
}

// NewBus creates a new bus.
func NewBus(cfg BusConfig) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	spans := cfg.Spans
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}

	return &Bus{
		logger:     logger,
		metrics:    metrics,
		spans:      spans,
		registry:   cfg.Registry,
		validate:   cfg.ValidateEvents,
		dlq:        cfg.DLQ,
		onError:    cfg.OnError,
		persistent: make(map[string][]*Subscription),
		oneTime:    make(map[string][]*Subscription),
	}
}

var (
	defaultBus     *Bus
	defaultBusOnce sync.Once
)

// Default returns the shared process-wide bus.
// Repeated calls return the identical instance. Prefer constructing a Bus
// with NewBus and injecting it where testability matters; Default exists for
// collaborators that need the one-per-process registry.
func Default() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = NewBus(BusConfig{})
	})
	return defaultBus
}

// Subscription is a handle to one registered handler.
type Subscription struct {
	bus     *Bus
	name    string
	handler Handler
	once    bool
	active  bool // guarded by bus.mu
}

// Event returns the event name the subscription is registered for.
func (s *Subscription) Event() string { return s.name }

// Once reports whether this is a one-time registration.
func (s *Subscription) Once() bool { return s.once }

// Unsubscribe removes the registration. It returns true if the handler was
// still registered and false if it had already been removed (including a
// one-time handler consumed by a publish).
func (s *Subscription) Unsubscribe() bool {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if !s.active {
		return false
	}
	s.active = false

	reg := b.persistent
	if s.once {
		reg = b.oneTime
	}
	reg[s.name] = removeSubscription(reg[s.name], s)
	if len(reg[s.name]) == 0 {
		delete(reg, s.name)
	}
	return true
}

func removeSubscription(subs []*Subscription, target *Subscription) []*Subscription {
	for i, s := range subs {
		if s == target {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Subscribe registers a persistent handler for an event name. Registering the
// same handler twice yields two invocations per publish.
func (b *Bus) Subscribe(name string, handler Handler) *Subscription {
	return b.subscribe(name, handler, false)
}

// SubscribeOnce registers a handler that is discarded after its first
// invocation, even if later publishes for the same event occur.
func (b *Bus) SubscribeOnce(name string, handler Handler) *Subscription {
	return b.subscribe(name, handler, true)
}

func (b *Bus) subscribe(name string, handler Handler, once bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus:     b,
		name:    name,
		handler: ChainMiddleware(handler, b.middleware...),
		once:    once,
		active:  true,
	}

	if once {
		b.oneTime[name] = append(b.oneTime[name], sub)
	} else {
		b.persistent[name] = append(b.persistent[name], sub)
	}
	return sub
}

// Use adds middleware that applies to subsequently registered handlers.
func (b *Bus) Use(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// Publish dispatches an event to every handler registered for name at call
// time: persistent handlers first, then one-time handlers, each in
// registration order. It returns once all handlers have returned.
//
// Publish never fails: handler errors and panics are logged, recorded, and
// captured in the DLQ when one is configured, but they do not stop sibling
// handlers and do not propagate to the publisher.
func (b *Bus) Publish(ctx context.Context, name string, data any) {
	b.dispatch(ctx, NewEvent(name, data), true)
}

// PublishEvent is Publish for a caller-constructed envelope.
func (b *Bus) PublishEvent(ctx context.Context, evt *Event) {
	b.dispatch(ctx, evt, true)
}

// Redeliver dispatches a previously failed event to the current subscribers
// and reports the joined handler errors. Unlike Publish it does not capture
// failures in the DLQ; the caller (typically a Redeliverer) owns the retry
// bookkeeping.
func (b *Bus) Redeliver(ctx context.Context, evt *Event) error {
	return b.dispatch(ctx, evt, false)
}

func (b *Bus) dispatch(ctx context.Context, evt *Event, capture bool) error {
	if b.validate && b.registry != nil {
		if err := b.registry.Validate(evt); err != nil {
			b.logger.Warn("dropping invalid event",
				slog.String("event", evt.Name),
				slog.String("error", err.Error()),
			)
			return err
		}
	}

	batch := b.snapshot(evt.Name)

	ctx, span := b.spans.StartPublishSpan(ctx, evt.Name)
	b.metrics.RecordPublish(ctx, evt.Name, len(batch))
	observability.LogPublish(b.logger, evt.Name, len(batch))

	var errs []error
	for _, sub := range batch {
		if err := b.deliver(ctx, evt, sub, capture); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	b.spans.EndSpanWithError(span, err)
	return err
}

// snapshot copies the handler list for one dispatch pass. One-time handlers
// are drained here, under the lock, so they fire exactly once even across
// concurrent or nested publishes of the same event.
func (b *Bus) snapshot(name string) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	persistent := b.persistent[name]
	oneTime := b.oneTime[name]

	batch := make([]*Subscription, 0, len(persistent)+len(oneTime))
	batch = append(batch, persistent...)
	for _, sub := range oneTime {
		sub.active = false
		batch = append(batch, sub)
	}
	delete(b.oneTime, name)
	return batch
}

func (b *Bus) deliver(ctx context.Context, evt *Event, sub *Subscription, capture bool) error {
	start := time.Now()
	err := safeHandle(ctx, sub.handler, evt)
	b.metrics.RecordDelivery(ctx, evt.Name, time.Since(start), err)
	if err == nil {
		return nil
	}

	name := handlerName(sub.handler)
	observability.LogHandlerError(b.logger, evt.Name, name, err)

	if capture && b.dlq != nil {
		failed := NewFailedDelivery(evt, err, name)
		if dlqErr := b.dlq.Enqueue(ctx, failed); dlqErr != nil {
			b.logger.Warn("dead letter enqueue failed",
				slog.String("event", evt.Name),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	if b.onError != nil {
		b.onError(evt, name, err)
	}
	return err
}

// safeHandle invokes a handler, converting a panic into a delivery error.
func safeHandle(ctx context.Context, h Handler, evt *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EventError{
				Event:   evt,
				Message: fmt.Sprintf("handler panic: %v", r),
			}
		}
	}()
	return h.Handle(ctx, evt)
}

// handlerName extracts a name for a handler (for logging/metrics).
func handlerName(h Handler) string {
	return fmt.Sprintf("%T", h)
}

// Clear removes all handlers for all events, both registries.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.persistent {
		deactivate(subs)
	}
	for _, subs := range b.oneTime {
		deactivate(subs)
	}
	b.persistent = make(map[string][]*Subscription)
	b.oneTime = make(map[string][]*Subscription)
}

// ClearEvent removes all handlers, both registries, for one event only.
func (b *Bus) ClearEvent(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	deactivate(b.persistent[name])
	deactivate(b.oneTime[name])
	delete(b.persistent, name)
	delete(b.oneTime, name)
}

func deactivate(subs []*Subscription) {
	for _, s := range subs {
		s.active = false
	}
}

// Events returns the sorted names that currently have at least one handler
// of either kind.
func (b *Bus) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(b.persistent)+len(b.oneTime))
	for name := range b.persistent {
		seen[name] = struct{}{}
	}
	for name := range b.oneTime {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandlerCount returns the sum of persistent and one-time handler counts
// for an event name.
func (b *Bus) HandlerCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.persistent[name]) + len(b.oneTime[name])
}

// HasHandlers reports whether any handler is registered for an event name.
func (b *Bus) HasHandlers(name string) bool {
	return b.HandlerCount(name) > 0
}
