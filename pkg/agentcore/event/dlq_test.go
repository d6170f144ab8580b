package event_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentfoundry/agentcore/pkg/agentcore/event"
)

func failedDelivery(name string, data any) *event.FailedDelivery {
	evt := event.NewEvent(name, data)
	failed := event.NewFailedDelivery(evt, errors.New("handler failed"), "test.handler")
	// Make it immediately ready for replay.
	failed.NextRetryAt = time.Now().Add(-time.Minute)
	return failed
}

func TestDLQEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{})

	failed := failedDelivery("ingest", map[string]any{"id": 1})
	if err := dlq.Enqueue(ctx, failed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, _ := dlq.Count(ctx)
	if count != 1 {
		t.Errorf("expected 1 queued delivery, got %d", count)
	}

	ready, err := dlq.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ready) != 1 || ready[0].EventID != failed.EventID {
		t.Errorf("expected the queued delivery back, got %v", ready)
	}

	// Dequeue removed it from the queue
	count, _ = dlq.Count(ctx)
	if count != 0 {
		t.Errorf("expected empty queue after dequeue, got %d", count)
	}
}

func TestDLQDequeueRespectsRetryTime(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{RetryDelay: time.Hour})

	evt := event.NewEvent("ingest", nil)
	failed := event.NewFailedDelivery(evt, errors.New("boom"), "h")
	if err := dlq.Enqueue(ctx, failed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready, _ := dlq.Dequeue(ctx, 10)
	if len(ready) != 0 {
		t.Errorf("expected no deliveries ready before the retry delay, got %d", len(ready))
	}
}

func TestDLQMaxSize(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{MaxSize: 1})

	if err := dlq.Enqueue(ctx, failedDelivery("a", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := dlq.Enqueue(ctx, failedDelivery("b", nil)); err == nil {
		t.Error("expected error when queue is full")
	}
}

func TestDLQCountByName(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{})

	_ = dlq.Enqueue(ctx, failedDelivery("a", 1))
	_ = dlq.Enqueue(ctx, failedDelivery("a", 2))
	_ = dlq.Enqueue(ctx, failedDelivery("b", 3))

	counts, err := dlq.CountByName(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestDLQRecordRetryFailureParks(t *testing.T) {
	ctx := context.Background()

	var parked atomic.Int32
	dlq := event.NewInMemoryDLQ(event.DLQConfig{
		MaxRetries: 2,
		OnPark: func(p *event.ParkedDelivery) {
			parked.Add(1)
		},
	})

	failed := failedDelivery("ingest", nil)
	_ = dlq.Enqueue(ctx, failed)

	// First failure reschedules
	if err := dlq.RecordRetryFailure(ctx, failed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed.AttemptCount != 1 {
		t.Errorf("expected 1 attempt recorded, got %d", failed.AttemptCount)
	}
	if !failed.NextRetryAt.After(time.Now()) {
		t.Error("expected replay to be rescheduled into the future")
	}

	// Second failure exhausts attempts and parks
	if err := dlq.RecordRetryFailure(ctx, failed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parked.Load() != 1 {
		t.Errorf("expected delivery to be parked, got %d parks", parked.Load())
	}

	count, _ := dlq.Count(ctx)
	if count != 0 {
		t.Errorf("expected empty retry queue after parking, got %d", count)
	}
	parkedCount, _ := dlq.ParkedCount(ctx)
	if parkedCount != 1 {
		t.Errorf("expected 1 parked delivery, got %d", parkedCount)
	}
}

func TestDLQNoRetriesParksImmediately(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{NoRetries: true})

	if err := dlq.Enqueue(ctx, failedDelivery("ingest", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, _ := dlq.Count(ctx)
	if count != 0 {
		t.Errorf("expected nothing queued for replay, got %d", count)
	}
	parkedCount, _ := dlq.ParkedCount(ctx)
	if parkedCount != 1 {
		t.Errorf("expected 1 parked delivery, got %d", parkedCount)
	}
}

func TestDLQParkedLifecycle(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{})

	failed := failedDelivery("ingest", nil)
	_ = dlq.Enqueue(ctx, failed)
	if err := dlq.Park(ctx, failed, "manual review"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parked, err := dlq.ListParked(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parked) != 1 || parked[0].ParkReason != "manual review" {
		t.Errorf("unexpected parked deliveries: %v", parked)
	}

	// Recover moves it back into the retry loop with a reset attempt count
	if err := dlq.RecoverParked(ctx, failed.EventID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	count, _ := dlq.Count(ctx)
	if count != 1 {
		t.Errorf("expected recovered delivery in queue, got %d", count)
	}

	// Delete of a non-parked ID fails
	if err := dlq.DeleteParked(ctx, failed.EventID); err == nil {
		t.Error("expected error deleting a delivery that is not parked")
	}

	_ = dlq.Park(ctx, failed, "again")
	if err := dlq.DeleteParked(ctx, failed.EventID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parkedCount, _ := dlq.ParkedCount(ctx)
	if parkedCount != 0 {
		t.Errorf("expected no parked deliveries after delete, got %d", parkedCount)
	}
}

func TestDLQStats(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{})

	failed := failedDelivery("ingest", nil)
	_ = dlq.Enqueue(ctx, failed)
	_ = dlq.Acknowledge(ctx, failed.EventID)

	stats := dlq.Stats()
	if stats.Enqueued != 1 {
		t.Errorf("expected 1 enqueued, got %d", stats.Enqueued)
	}
	if stats.Recovered != 1 {
		t.Errorf("expected 1 recovered, got %d", stats.Recovered)
	}
	if stats.QueueSize != 0 {
		t.Errorf("expected empty queue, got %d", stats.QueueSize)
	}
}

func TestRedelivererProcessBatchSuccess(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{})
	bus := newTestBus()

	var replayed atomic.Int32
	bus.Subscribe("ingest", countingHandler(&replayed))

	failed := failedDelivery("ingest", map[string]any{"id": 9})
	_ = dlq.Enqueue(ctx, failed)

	var succeeded atomic.Int32
	r := event.NewRedeliverer(dlq, bus, event.RedelivererConfig{
		OnSuccess: func(f *event.FailedDelivery) {
			succeeded.Add(1)
		},
	})
	r.ProcessBatch(ctx)

	if replayed.Load() != 1 {
		t.Errorf("expected 1 replayed delivery, got %d", replayed.Load())
	}
	if succeeded.Load() != 1 {
		t.Errorf("expected OnSuccess to fire, got %d", succeeded.Load())
	}
	count, _ := dlq.Count(ctx)
	if count != 0 {
		t.Errorf("expected delivery acknowledged, got %d queued", count)
	}
}

func TestRedelivererProcessBatchFailure(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{})
	bus := newTestBus()

	bus.Subscribe("ingest", event.HandlerFunc(func(ctx context.Context, evt *event.Event) error {
		return errors.New("still failing")
	}))

	failed := failedDelivery("ingest", nil)
	_ = dlq.Enqueue(ctx, failed)

	var failures atomic.Int32
	r := event.NewRedeliverer(dlq, bus, event.RedelivererConfig{
		OnFailure: func(f *event.FailedDelivery, err error) {
			failures.Add(1)
		},
	})
	r.ProcessBatch(ctx)

	if failures.Load() != 1 {
		t.Errorf("expected OnFailure to fire, got %d", failures.Load())
	}
	if failed.AttemptCount != 1 {
		t.Errorf("expected 1 replay attempt recorded, got %d", failed.AttemptCount)
	}
	count, _ := dlq.Count(ctx)
	if count != 1 {
		t.Errorf("expected delivery requeued for another attempt, got %d", count)
	}
}

func TestRedelivererParksPoison(t *testing.T) {
	ctx := context.Background()
	dlq := event.NewInMemoryDLQ(event.DLQConfig{})
	bus := newTestBus()

	var replayed atomic.Int32
	bus.Subscribe("ingest", countingHandler(&replayed))

	detector := event.NewPoisonDetector(event.PoisonConfig{FailureThreshold: 1})
	failed := failedDelivery("ingest", map[string]any{"bad": true})
	detector.Record(failed)

	_ = dlq.Enqueue(ctx, failed)

	r := event.NewRedeliverer(dlq, bus, event.RedelivererConfig{Poison: detector})
	r.ProcessBatch(ctx)

	if replayed.Load() != 0 {
		t.Errorf("expected poison delivery not to be replayed, got %d", replayed.Load())
	}
	parkedCount, _ := dlq.ParkedCount(ctx)
	if parkedCount != 1 {
		t.Errorf("expected poison delivery parked, got %d", parkedCount)
	}
}
