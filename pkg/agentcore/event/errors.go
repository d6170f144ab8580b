package event

import (
	"context"
	"fmt"
	"time"
)

// EventError represents an error during event delivery.
type EventError struct {
	Event   *Event // The event that failed
	Handler string // Handler that failed (if known)
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", e.Event.Name, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", e.Event.Name, e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}

// FailedDelivery records one failed handler invocation for later replay.
type FailedDelivery struct {
	// Event information
	EventID   string `json:"event_id"`
	EventName string `json:"event_name"`
	Data      any    `json:"data,omitempty"`
	DataBytes []byte `json:"data_bytes,omitempty"`

	// Error information
	ErrorMessage string `json:"error_message"`
	Handler      string `json:"handler,omitempty"`

	// Retry tracking
	AttemptCount  int       `json:"attempt_count"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
	NextRetryAt   time.Time `json:"next_retry_at,omitempty"`
}

// NewFailedDelivery captures a failed handler invocation.
func NewFailedDelivery(evt *Event, err error, handler string) *FailedDelivery {
	now := time.Now()
	return &FailedDelivery{
		EventID:       evt.ID,
		EventName:     evt.Name,
		Data:          evt.Data,
		DataBytes:     evt.DataBytes(),
		ErrorMessage:  err.Error(),
		Handler:       handler,
		AttemptCount:  0, // No replay attempts yet
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
}

// Event reconstructs an envelope for redelivery. The envelope keeps the
// original ID so subscribers and the poison detector can correlate attempts.
func (f *FailedDelivery) Event() *Event {
	return &Event{
		ID:        f.EventID,
		Name:      f.EventName,
		Timestamp: time.Now(),
		Data:      f.Data,
	}
}

// ParkedDelivery is a failed delivery moved out of the retry loop, awaiting
// manual review.
type ParkedDelivery struct {
	FailedDelivery

	ParkReason string     `json:"park_reason"`
	ParkedAt   time.Time  `json:"parked_at"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// DeadLetterQueue stores failed deliveries for later replay.
type DeadLetterQueue interface {
	// Enqueue adds a failed delivery to the queue.
	Enqueue(ctx context.Context, failed *FailedDelivery) error

	// Dequeue retrieves deliveries whose retry time has come.
	Dequeue(ctx context.Context, limit int) ([]*FailedDelivery, error)

	// Acknowledge marks a delivery as successfully replayed (removes it).
	Acknowledge(ctx context.Context, eventID string) error

	// RecordRetryFailure updates retry bookkeeping after a failed replay,
	// parking the delivery once its attempts are exhausted.
	RecordRetryFailure(ctx context.Context, failed *FailedDelivery) error

	// Count returns the number of deliveries waiting for replay.
	Count(ctx context.Context) (int, error)

	// CountByName returns counts grouped by event name.
	CountByName(ctx context.Context) (map[string]int, error)
}
