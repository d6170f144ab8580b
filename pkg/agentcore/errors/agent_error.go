package errors

import (
	"fmt"
	"sync/atomic"
	"time"
)

// AgentError is the normalized error value every collaborator reports
// failures with. It carries the two taxonomy axes (severity and source),
// diagnostic context, and handling state.
//
// The handled flag is a one-way transition: it starts false and is set
// exactly once when the error passes through Manager.HandleError. An error
// is never reset to unhandled.
type AgentError struct {
	// Message describes the failure.
	Message string

	// Severity communicates urgency and retry eligibility.
	Severity Severity

	// Source determines which handler chain is consulted first.
	Source Source

	// Timestamp records when the error was created.
	Timestamp time.Time

	// Err is the wrapped underlying failure, if any.
	Err error

	// Context carries diagnostic key/value data.
	Context map[string]any

	handled    atomic.Bool
	retryCount atomic.Int32
}

// ErrorOption configures error creation.
type ErrorOption func(*AgentError)

// WithSeverity sets the severity (default: SeverityError).
func WithSeverity(s Severity) ErrorOption {
	return func(e *AgentError) {
		e.Severity = s
	}
}

// WithSource sets the originating source (default: SourceFramework).
func WithSource(s Source) ErrorOption {
	return func(e *AgentError) {
		e.Source = s
	}
}

// WithCause wraps the underlying failure.
func WithCause(err error) ErrorOption {
	return func(e *AgentError) {
		e.Err = err
	}
}

// WithContext attaches diagnostic data, merging with any existing context.
func WithContext(ctx map[string]any) ErrorOption {
	return func(e *AgentError) {
		if e.Context == nil {
			e.Context = make(map[string]any, len(ctx))
		}
		for k, v := range ctx {
			e.Context[k] = v
		}
	}
}

// WithContextValue attaches one diagnostic key/value pair.
func WithContextValue(key string, value any) ErrorOption {
	return func(e *AgentError) {
		if e.Context == nil {
			e.Context = make(map[string]any, 1)
		}
		e.Context[key] = value
	}
}

// New creates an AgentError. Defaults: SeverityError, SourceFramework,
// unhandled, zero retries, fresh timestamp.
func New(message string, opts ...ErrorOption) *AgentError {
	e := &AgentError{
		Message:   message,
		Severity:  SeverityError,
		Source:    SourceFramework,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wrap creates an AgentError around an underlying failure.
func Wrap(err error, message string, opts ...ErrorOption) *AgentError {
	return New(message, append([]ErrorOption{WithCause(err)}, opts...)...)
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (source: %s, severity: %s): %v", e.Message, e.Source, e.Severity, e.Err)
	}
	return fmt.Sprintf("%s (source: %s, severity: %s)", e.Message, e.Source, e.Severity)
}

// Unwrap returns the underlying error.
func (e *AgentError) Unwrap() error {
	return e.Err
}

// Handled reports whether the error has passed through HandleError.
func (e *AgentError) Handled() bool {
	return e.handled.Load()
}

// markHandled records the one-way handled transition.
func (e *AgentError) markHandled() {
	e.handled.Store(true)
}

// RetryCount returns how many re-attempts the retry loop has made for
// this error.
func (e *AgentError) RetryCount() int {
	return int(e.retryCount.Load())
}

// incrementRetry records one re-attempt.
func (e *AgentError) incrementRetry() {
	e.retryCount.Add(1)
}
