package event

import (
	"context"
	"sync"
	"time"
)

// InMemoryDLQ is an in-memory implementation of DeadLetterQueue.
// Entries live only for the process lifetime; the bus keeps no state across
// restarts.
type InMemoryDLQ struct {
	mu     sync.RWMutex
	events map[string]*FailedDelivery // keyed by event ID
	parked map[string]*ParkedDelivery // keyed by event ID
	cfg    DLQConfig

	// Counters
	enqueued  int64
	retried   int64
	parkedN   int64
	recovered int64
}

// DLQConfig configures the dead letter queue.
type DLQConfig struct {
	// MaxSize limits the number of deliveries in the queue.
	// Default: 10000
	MaxSize int

	// MaxRetries before a delivery is parked.
	// Default: 5. Use NoRetries=true to disable replay.
	MaxRetries int

	// NoRetries disables replay - deliveries are parked immediately.
	// When true, MaxRetries is ignored.
	NoRetries bool

	// RetryDelay before the first replay attempt.
	// Default: 1 minute
	RetryDelay time.Duration

	// OnEnqueue is called when a delivery is added.
	OnEnqueue func(*FailedDelivery)

	// OnPark is called when a delivery is parked.
	OnPark func(*ParkedDelivery)
}

// DefaultDLQConfig provides reasonable defaults.
var DefaultDLQConfig = DLQConfig{
	MaxSize:    10000,
	MaxRetries: 5,
	RetryDelay: 1 * time.Minute,
}

// NewInMemoryDLQ creates a new in-memory dead letter queue.
func NewInMemoryDLQ(cfg DLQConfig) *InMemoryDLQ {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDLQConfig.MaxSize
	}
	if cfg.MaxRetries <= 0 && !cfg.NoRetries {
		cfg.MaxRetries = DefaultDLQConfig.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultDLQConfig.RetryDelay
	}

	return &InMemoryDLQ{
		events: make(map[string]*FailedDelivery),
		parked: make(map[string]*ParkedDelivery),
		cfg:    cfg,
	}
}

// Enqueue adds a failed delivery to the queue.
func (d *InMemoryDLQ) Enqueue(ctx context.Context, failed *FailedDelivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.events) >= d.cfg.MaxSize {
		return &EventError{
			Event:   failed.Event(),
			Message: "dead letter queue is full",
		}
	}

	if d.cfg.NoRetries || failed.AttemptCount >= d.cfg.MaxRetries {
		return d.parkLocked(failed, "max retries exceeded")
	}

	if failed.NextRetryAt.IsZero() {
		failed.NextRetryAt = time.Now().Add(d.cfg.RetryDelay)
	}

	d.events[failed.EventID] = failed
	d.enqueued++

	if d.cfg.OnEnqueue != nil {
		d.cfg.OnEnqueue(failed)
	}
	return nil
}

// Dequeue returns deliveries ready for replay.
func (d *InMemoryDLQ) Dequeue(ctx context.Context, limit int) ([]*FailedDelivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	ready := make([]*FailedDelivery, 0, limit)

	for id, evt := range d.events {
		if len(ready) >= limit {
			break
		}
		if !evt.NextRetryAt.After(now) {
			ready = append(ready, evt)
			delete(d.events, id)
		}
	}
	return ready, nil
}

// Acknowledge marks a delivery as successfully replayed.
func (d *InMemoryDLQ) Acknowledge(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.events, eventID)
	d.recovered++
	return nil
}

// RecordRetryFailure updates retry bookkeeping and reschedules, parking the
// delivery once attempts are exhausted.
func (d *InMemoryDLQ) RecordRetryFailure(ctx context.Context, failed *FailedDelivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	failed.AttemptCount++
	failed.LastFailedAt = time.Now()

	if failed.AttemptCount >= d.cfg.MaxRetries {
		delete(d.events, failed.EventID)
		return d.parkLocked(failed, "max retries exceeded")
	}

	// Exponential backoff for next replay
	backoff := d.cfg.RetryDelay * time.Duration(1<<uint(failed.AttemptCount))
	failed.NextRetryAt = time.Now().Add(backoff)

	d.events[failed.EventID] = failed
	d.retried++
	return nil
}

// Park moves a delivery out of the retry loop for manual review.
func (d *InMemoryDLQ) Park(ctx context.Context, failed *FailedDelivery, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.events, failed.EventID)
	return d.parkLocked(failed, reason)
}

// parkLocked parks a delivery (must hold lock).
func (d *InMemoryDLQ) parkLocked(failed *FailedDelivery, reason string) error {
	parked := &ParkedDelivery{
		FailedDelivery: *failed,
		ParkReason:     reason,
		ParkedAt:       time.Now(),
	}

	d.parked[failed.EventID] = parked
	d.parkedN++

	if d.cfg.OnPark != nil {
		d.cfg.OnPark(parked)
	}
	return nil
}

// Count returns the number of deliveries waiting for replay.
func (d *InMemoryDLQ) Count(ctx context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.events), nil
}

// CountByName returns counts grouped by event name.
func (d *InMemoryDLQ) CountByName(ctx context.Context) (map[string]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[string]int)
	for _, evt := range d.events {
		counts[evt.EventName]++
	}
	return counts, nil
}

// ParkedCount returns the number of parked deliveries.
func (d *InMemoryDLQ) ParkedCount(ctx context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.parked), nil
}

// ListParked returns parked deliveries.
func (d *InMemoryDLQ) ListParked(ctx context.Context, limit int) ([]*ParkedDelivery, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.parked) {
		limit = len(d.parked)
	}

	result := make([]*ParkedDelivery, 0, limit)
	for _, evt := range d.parked {
		if len(result) >= limit {
			break
		}
		result = append(result, evt)
	}
	return result, nil
}

// RecoverParked moves a parked delivery back into the retry loop.
func (d *InMemoryDLQ) RecoverParked(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parked, ok := d.parked[eventID]
	if !ok {
		return &EventError{Event: &Event{ID: eventID}, Message: "delivery not parked"}
	}

	// Reset retry count and move back to the queue
	failed := &parked.FailedDelivery
	failed.AttemptCount = 0
	failed.NextRetryAt = time.Now()

	d.events[eventID] = failed
	delete(d.parked, eventID)
	d.recovered++
	return nil
}

// DeleteParked permanently deletes a parked delivery.
func (d *InMemoryDLQ) DeleteParked(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.parked[eventID]; !ok {
		return &EventError{Event: &Event{ID: eventID}, Message: "delivery not parked"}
	}

	delete(d.parked, eventID)
	return nil
}

// Stats returns queue statistics.
func (d *InMemoryDLQ) Stats() DLQStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DLQStats{
		QueueSize:  len(d.events),
		ParkedSize: len(d.parked),
		Enqueued:   d.enqueued,
		Retried:    d.retried,
		Parked:     d.parkedN,
		Recovered:  d.recovered,
	}
}

// DLQStats provides statistics about the queue.
type DLQStats struct {
	QueueSize  int   // Deliveries waiting for replay
	ParkedSize int   // Deliveries awaiting manual review
	Enqueued   int64 // Total deliveries enqueued
	Retried    int64 // Total replay attempts
	Parked     int64 // Total deliveries parked
	Recovered  int64 // Total deliveries recovered
}

// Redeliverer replays failed deliveries from a DLQ back onto the bus.
type Redeliverer struct {
	dlq     *InMemoryDLQ
	bus     *Bus
	cfg     RedelivererConfig
	stopCh  chan struct{}
	running bool
	mu      sync.Mutex
}

// RedelivererConfig configures the redeliverer.
type RedelivererConfig struct {
	// BatchSize is the number of deliveries to replay at once.
	// Default: 10
	BatchSize int

	// PollInterval is how often to check for ready deliveries.
	// Default: 10 seconds
	PollInterval time.Duration

	// Poison, when set, parks deliveries whose event keeps failing
	// instead of replaying them again.
	Poison *PoisonDetector

	// OnRedeliver is called before replaying a delivery.
	OnRedeliver func(*FailedDelivery)

	// OnSuccess is called after a successful replay.
	OnSuccess func(*FailedDelivery)

	// OnFailure is called after a failed replay.
	OnFailure func(*FailedDelivery, error)
}

// DefaultRedelivererConfig provides reasonable defaults.
var DefaultRedelivererConfig = RedelivererConfig{
	BatchSize:    10,
	PollInterval: 10 * time.Second,
}

// NewRedeliverer creates a redeliverer for a queue and a bus.
func NewRedeliverer(dlq *InMemoryDLQ, bus *Bus, cfg RedelivererConfig) *Redeliverer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRedelivererConfig.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRedelivererConfig.PollInterval
	}

	return &Redeliverer{
		dlq:    dlq,
		bus:    bus,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start begins replaying deliveries in the background.
func (r *Redeliverer) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.run(ctx)
}

// Stop halts the redeliverer.
func (r *Redeliverer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
}

// run is the main replay loop.
func (r *Redeliverer) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch replays one batch of ready deliveries. Exposed so callers can
// drive replay manually instead of running the polling loop.
func (r *Redeliverer) ProcessBatch(ctx context.Context) {
	deliveries, err := r.dlq.Dequeue(ctx, r.cfg.BatchSize)
	if err != nil {
		return
	}

	for _, failed := range deliveries {
		if r.cfg.Poison != nil && r.cfg.Poison.IsPoison(failed) {
			_ = r.dlq.Park(ctx, failed, "poison event detected")
			continue
		}

		if r.cfg.OnRedeliver != nil {
			r.cfg.OnRedeliver(failed)
		}

		if replayErr := r.bus.Redeliver(ctx, failed.Event()); replayErr != nil {
			if r.cfg.Poison != nil {
				r.cfg.Poison.Record(failed)
			}
			if r.cfg.OnFailure != nil {
				r.cfg.OnFailure(failed, replayErr)
			}
			_ = r.dlq.RecordRetryFailure(ctx, failed)
		} else {
			if r.cfg.OnSuccess != nil {
				r.cfg.OnSuccess(failed)
			}
			_ = r.dlq.Acknowledge(ctx, failed.EventID)
		}
	}
}
