package errors

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/agentfoundry/agentcore/pkg/agentcore/config"
	"github.com/agentfoundry/agentcore/pkg/agentcore/observability"
)

// RetryOptions configures retry behavior.
type RetryOptions struct {
	// MaxRetries is the number of additional attempts after the first,
	// so MaxRetries = N yields at most N+1 invocations.
	MaxRetries int

	// InitialDelay is the backoff before the first re-attempt.
	InitialDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// BackoffFactor is the multiplier applied per attempt (>= 1).
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0) applied to each delay.
	Jitter float64

	// RetryableSeverities lists severities eligible for retry. Retry itself
	// re-attempts every failure; the set is carried in the defaults for
	// callers that filter errors themselves via IsRetryable.
	RetryableSeverities []Severity
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryOptions{
	MaxRetries:          3,
	InitialDelay:        1 * time.Second,
	MaxDelay:            30 * time.Second,
	BackoffFactor:       2.0,
	RetryableSeverities: []Severity{SeverityWarning, SeverityError},
}

// normalized fills zero fields from DefaultRetry. MaxRetries is taken
// literally (zero means a single attempt).
func (o RetryOptions) normalized() RetryOptions {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultRetry.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultRetry.MaxDelay
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = DefaultRetry.BackoffFactor
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	if o.Jitter > 1 {
		o.Jitter = 1
	}
	if o.RetryableSeverities == nil {
		o.RetryableSeverities = append([]Severity(nil), DefaultRetry.RetryableSeverities...)
	}
	return o
}

// RetryOption overrides one retry setting.
type RetryOption func(*RetryOptions)

// WithMaxRetries sets the number of additional attempts after the first.
func WithMaxRetries(n int) RetryOption {
	return func(o *RetryOptions) {
		o.MaxRetries = n
	}
}

// WithInitialDelay sets the initial backoff duration.
func WithInitialDelay(d time.Duration) RetryOption {
	return func(o *RetryOptions) {
		o.InitialDelay = d
	}
}

// WithMaxDelay sets the maximum backoff duration.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(o *RetryOptions) {
		o.MaxDelay = d
	}
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) RetryOption {
	return func(o *RetryOptions) {
		o.BackoffFactor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RetryOption {
	return func(o *RetryOptions) {
		o.Jitter = j
	}
}

// WithRetryableSeverities sets the severities eligible for retry.
func WithRetryableSeverities(severities ...Severity) RetryOption {
	return func(o *RetryOptions) {
		o.RetryableSeverities = severities
	}
}

// NewRetryOptions creates retry options from the defaults and the given
// overrides.
func NewRetryOptions(opts ...RetryOption) RetryOptions {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.normalized()
}

// RetryOptionsFromConfig decodes retry options from a config section,
// falling back to the defaults for missing keys.
func RetryOptionsFromConfig(c config.Config) RetryOptions {
	opts := RetryOptions{
		MaxRetries:    c.Int("max_retries", DefaultRetry.MaxRetries),
		InitialDelay:  c.Duration("initial_delay", DefaultRetry.InitialDelay),
		MaxDelay:      c.Duration("max_delay", DefaultRetry.MaxDelay),
		BackoffFactor: c.Float("backoff_factor", DefaultRetry.BackoffFactor),
		Jitter:        c.Float("jitter", 0),
	}

	if names := c.StringSlice("retryable_severities", nil); names != nil {
		severities := make([]Severity, 0, len(names))
		for _, name := range names {
			if s, err := ParseSeverity(name); err == nil {
				severities = append(severities, s)
			}
		}
		opts.RetryableSeverities = severities
	}
	return opts.normalized()
}

// Retry executes fn, re-attempting on failure with exponential backoff:
// delay = min(MaxDelay, InitialDelay × BackoffFactor^attempt), where the
// first failed attempt is attempt 0.
//
// On success at any attempt the value is returned immediately. Once
// MaxRetries additional attempts are exhausted, the last underlying error
// is returned unchanged so the caller keeps the original message and type.
// Cancelling the context aborts the backoff wait and returns ctx.Err().
func Retry[T any](ctx context.Context, opts RetryOptions, fn func(context.Context) (T, error)) (T, error) {
	return retry(ctx, opts.normalized(), fn, nil, observability.NoopMetrics{})
}

// RetryWith is Retry using a manager's default options, merged with the
// given overrides, and the manager's logger and metrics.
func RetryWith[T any](ctx context.Context, m *Manager, fn func(context.Context) (T, error), opts ...RetryOption) (T, error) {
	cfg := m.DefaultRetryOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	return retry(ctx, cfg.normalized(), fn, m.logger, m.metrics)
}

// Retry executes fn with the manager's default options merged with the
// given overrides. Use RetryWith when the operation returns a value.
func (m *Manager) Retry(ctx context.Context, fn func(context.Context) error, opts ...RetryOption) error {
	_, err := RetryWith(ctx, m, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

func retry[T any](
	ctx context.Context,
	opts RetryOptions,
	fn func(context.Context) (T, error),
	logger *slog.Logger,
	metrics observability.MetricsRecorder,
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			metrics.RecordRetry(ctx, attempt+1, true)
			return value, nil
		}
		lastErr = err

		if attempt >= opts.MaxRetries {
			metrics.RecordRetry(ctx, attempt+1, false)
			observability.LogRetryExhausted(logger, attempt+1, lastErr)
			return zero, lastErr
		}

		var aerr *AgentError
		if errors.As(err, &aerr) {
			aerr.incrementRetry()
		}

		delay := backoffDelay(opts, attempt)
		observability.LogRetryAttempt(logger, attempt+1, delay, err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoffDelay returns the capped exponential delay for a 0-indexed attempt,
// with jitter applied.
func backoffDelay(opts RetryOptions, attempt int) time.Duration {
	delay := float64(opts.InitialDelay) * math.Pow(opts.BackoffFactor, float64(attempt))
	if delay > float64(opts.MaxDelay) {
		delay = float64(opts.MaxDelay)
	}
	if opts.Jitter > 0 {
		// delay +/- (delay * jitter * random)
		delay += delay * opts.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

// IsRetryable reports whether an error's severity is in the eligible set.
// Errors that are not an *AgentError are considered eligible.
func IsRetryable(err error, opts RetryOptions) bool {
	var aerr *AgentError
	if !errors.As(err, &aerr) {
		return true
	}
	for _, s := range opts.normalized().RetryableSeverities {
		if aerr.Severity == s {
			return true
		}
	}
	return false
}
