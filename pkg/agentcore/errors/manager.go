package errors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentfoundry/agentcore/pkg/agentcore/event"
	"github.com/agentfoundry/agentcore/pkg/agentcore/observability"
)

// RecoveryHandler attempts local recovery for an error. Returning true
// signals the error is dealt with and stops the chain; returning an error
// (or panicking) is logged and treated as "not handled".
type RecoveryHandler func(ctx context.Context, aerr *AgentError) (bool, error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Bus receives the error:<source> and error events HandleError
	// publishes. Default: event.Default().
	Bus *event.Bus

	// Logger receives handling diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Metrics records handled errors and retry outcomes. Default: no-op.
	Metrics observability.MetricsRecorder

	// Spans traces chain walks. Default: no-op.
	Spans observability.SpanManager
}

// Manager owns the per-source recovery handler chains and the process-wide
// default retry options.
type Manager struct {
	bus     *event.Bus
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	mu     sync.Mutex
	chains map[Source][]*Registration

	optsMu   sync.RWMutex
	defaults RetryOptions
}

// NewManager creates a manager wired to the given collaborators.
func NewManager(cfg ManagerConfig) *Manager {
	bus := cfg.Bus
	if bus == nil {
		bus = event.Default()
	}
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

	return &Manager{
		bus:      bus,
		logger:   logger,
		metrics:  metrics,
		spans:    spans,
		chains:   make(map[Source][]*Registration),
		defaults: DefaultRetry,
	}
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// Default returns the shared process-wide manager, wired to the default bus.
// Repeated calls return the identical instance.
func Default() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewManager(ManagerConfig{})
	})
	return defaultManager
}

// Bus returns the bus HandleError publishes on.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Registration is a handle to one registered recovery handler.
type Registration struct {
	manager *Manager
	source  Source
	handler RecoveryHandler
	active  bool // guarded by manager.mu
}

// Source returns the source the handler is registered for.
func (r *Registration) Source() Source { return r.source }

// Unregister removes the handler from its chain. It returns true if the
// handler was still registered and false if it had already been removed.
func (r *Registration) Unregister() bool {
	m := r.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if !r.active {
		return false
	}
	r.active = false

	chain := m.chains[r.source]
	for i, reg := range chain {
		if reg == r {
			m.chains[r.source] = append(chain[:i:i], chain[i+1:]...)
			break
		}
	}
	if len(m.chains[r.source]) == 0 {
		delete(m.chains, r.source)
	}
	return true
}

// RegisterHandler appends a recovery handler to the chain for a source.
// Chains are consulted in registration order.
func (m *Manager) RegisterHandler(source Source, handler RecoveryHandler) *Registration {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg := &Registration{
		manager: m,
		source:  source,
		handler: handler,
		active:  true,
	}
	m.chains[source] = append(m.chains[source], reg)
	return reg
}

// HandlerCount returns the number of handlers in a source's chain.
func (m *Manager) HandlerCount(source Source) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chains[source])
}

// Clear removes all handler chains for all sources.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chain := range m.chains {
		for _, reg := range chain {
			reg.active = false
		}
	}
	m.chains = make(map[Source][]*Registration)
}

// ClearSource removes the handler chain for one source only.
func (m *Manager) ClearSource(source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, reg := range m.chains[source] {
		reg.active = false
	}
	delete(m.chains, source)
}

// HandleError is the terminal sink for a normalized error:
//
//  1. The chain for the error's source is consulted in registration order,
//     stopping at the first handler that reports the error handled.
//  2. If no source handler claimed it and the source is not the framework,
//     the framework chain is consulted the same way, so every error gets at
//     least the chance to be observed by framework-level handlers.
//  3. The error is marked handled.
//  4. The error is published as error:<source>, then as the generic error
//     event, carrying the identical *AgentError.
//
// HandleError never fails; recovery handler errors and panics are logged
// and isolated.
func (m *Manager) HandleError(ctx context.Context, aerr *AgentError) {
	if aerr == nil {
		return
	}

	ctx, span := m.spans.StartHandleSpan(ctx, string(aerr.Source), aerr.Severity.String())

	recovered := m.runChain(ctx, aerr.Source, aerr)
	if !recovered && aerr.Source != SourceFramework {
		recovered = m.runChain(ctx, SourceFramework, aerr)
	}

	aerr.markHandled()

	m.metrics.RecordErrorHandled(ctx, string(aerr.Source), aerr.Severity.String(), recovered)
	observability.LogErrorHandled(m.logger, string(aerr.Source), aerr.Severity.String(), recovered)

	m.bus.Publish(ctx, SourceErrorEvent(aerr.Source), aerr)
	m.bus.Publish(ctx, ErrorEvent, aerr)

	m.spans.EndSpanWithError(span, nil)
}

// runChain walks one source's chain over a snapshot, stopping at the first
// handler that claims the error.
func (m *Manager) runChain(ctx context.Context, source Source, aerr *AgentError) bool {
	m.mu.Lock()
	chain := make([]*Registration, len(m.chains[source]))
	copy(chain, m.chains[source])
	m.mu.Unlock()

	for _, reg := range chain {
		handled, err := safeAttempt(ctx, reg.handler, aerr)
		if err != nil {
			m.logger.Warn("recovery handler failed",
				slog.String("source", string(source)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if handled {
			return true
		}
	}
	return false
}

// safeAttempt invokes a recovery handler, converting a panic into an error.
func safeAttempt(ctx context.Context, h RecoveryHandler, aerr *AgentError) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled = false
			err = fmt.Errorf("recovery handler panic: %v", r)
		}
	}()
	return h(ctx, aerr)
}

// SetDefaultRetryOptions replaces the process-wide retry defaults. Zero
// fields fall back to the package defaults, so callers can override only
// what they care about.
func (m *Manager) SetDefaultRetryOptions(opts RetryOptions) {
	m.optsMu.Lock()
	defer m.optsMu.Unlock()
	m.defaults = opts.normalized()
}

// DefaultRetryOptions returns the current process-wide retry defaults.
func (m *Manager) DefaultRetryOptions() RetryOptions {
	m.optsMu.RLock()
	defer m.optsMu.RUnlock()
	return m.defaults
}
