// Package errors provides the centralized error coordination layer:
// a severity/source taxonomy, per-source recovery handler chains with a
// framework-level fallback net, and a retry helper with exponential backoff.
//
// The flow for a collaborator that catches a failure:
//   - normalize it with New (or Wrap)
//   - hand it to a Manager via HandleError, which attempts local recovery
//     through the registered chains, marks the error handled, and publishes
//     it on the event bus for observers
//   - wrap fallible operations in Retry for automatic re-attempts
//
// HandleError is the designated terminal sink: it never fails, so callers
// can fire-and-forget error reporting. Retry is the one place a final
// failure is intentionally surfaced back to the caller.
package errors

import "fmt"

// Severity classifies how urgent an error is, in increasing order of
// seriousness.
type Severity int

const (
	// SeverityWarning indicates a recoverable, low-urgency condition.
	SeverityWarning Severity = iota

	// SeverityError indicates a failure of the current operation.
	SeverityError

	// SeverityCritical indicates a failure that threatens the process.
	// Critical errors are not eligible for retry by default.
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a severity name to a Severity.
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityError, fmt.Errorf("unknown severity: %q", name)
	}
}

// Source names the subsystem an error originated from. The set is open:
// collaborators may define their own sources; the predeclared values cover
// the framework's own components.
type Source string

const (
	// SourceFramework is the framework itself, and the fallback handler
	// chain consulted for every error whose own source declines it.
	SourceFramework Source = "framework"

	// SourceAgent is an agent implementation.
	SourceAgent Source = "agent"

	// SourceAdapter is an adapter to an external service.
	SourceAdapter Source = "adapter"

	// SourceModule is a domain module.
	SourceModule Source = "module"
)

// ErrorEvent is the generic event name every handled error is published
// under, after its source-specific event.
const ErrorEvent = "error"

// SourceErrorEvent returns the per-source event name, e.g. "error:agent".
func SourceErrorEvent(source Source) string {
	return ErrorEvent + ":" + string(source)
}
