package publisher_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"tally/internal/common/types"
	"tally/internal/ledger/domain"
	"tally/internal/ledger/infrastructure/memory"
	"tally/internal/ledger/publisher"
)

// fakeBus records publishes and can be toggled to fail.
type fakeBus struct {
	mu        sync.Mutex
	failing   bool
	attempts  int
	published []string // aggregate ids in publish order
}

func (b *fakeBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.failing {
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, key)
	return nil
}

func (b *fakeBus) attemptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *fakeBus) setFailing(failing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = failing
}

func (b *fakeBus) publishedKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	copy(out, b.published)
	return out
}

func testConfig() publisher.Config {
	return publisher.Config{
		PollInterval:   10 * time.Millisecond,
		BatchSize:      10,
		ClaimLease:     time.Minute,
		PublishTimeout: time.Second,
		Workers:        1,
		Retry: publisher.RetryPolicy{
			InitialInterval: time.Second,
			Multiplier:      2.0,
			Jitter:          time.Second,
			MaxInterval:     5 * time.Minute,
		},
	}
}

func stageRecord(t *testing.T, ds *memory.DataStore, key string, createdAt time.Time) *domain.OutboxRecord {
	t.Helper()
	record := &domain.OutboxRecord{
		ID:            types.NewEventID(),
		AggregateID:   key,
		AggregateType: domain.AggregateTypeTransaction,
		EventType:     domain.EventTypeTransactionCreated,
		Payload:       []byte(`{"transactionId":"` + key + `"}`),
		Topic:         "transaction-events",
		Status:        domain.OutboxStatusPending,
		MaxRetries:    3,
		CreatedAt:     createdAt,
	}
	if err := ds.Outbox().Append(context.Background(), record); err != nil {
		t.Fatalf("failed to stage record: %v", err)
	}
	return record
}

func recordByID(t *testing.T, ds *memory.DataStore, id types.EventID) *domain.OutboxRecord {
	t.Helper()
	outbox := ds.Outbox().(*memory.OutboxRepository)
	for _, rec := range outbox.Records() {
		if rec.ID == id {
			return rec
		}
	}
	t.Fatalf("record %s not found", id)
	return nil
}

func TestWorker_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	t.Run("publishes pending records in creation order", func(t *testing.T) {
		ds := memory.NewDataStore()
		bus := &fakeBus{}
		first := stageRecord(t, ds, "tx-1", base)
		second := stageRecord(t, ds, "tx-2", base.Add(time.Second))

		worker := publisher.NewWorker(ds.Outbox(), bus, testConfig(), rand.New(rand.NewSource(1))).
			WithClock(func() time.Time { return base.Add(time.Minute) })

		worker.ProcessBatch(ctx)

		keys := bus.publishedKeys()
		if len(keys) != 2 || keys[0] != "tx-1" || keys[1] != "tx-2" {
			t.Fatalf("expected [tx-1 tx-2], got %v", keys)
		}
		if got := recordByID(t, ds, first.ID); got.Status != domain.OutboxStatusPublished {
			t.Errorf("expected PUBLISHED, got %s", got.Status)
		}
		if got := recordByID(t, ds, second.ID); got.PublishedAt == nil {
			t.Error("expected published_at to be set")
		}
	})

	t.Run("failed publish schedules a retry with backoff", func(t *testing.T) {
		ds := memory.NewDataStore()
		bus := &fakeBus{failing: true}
		record := stageRecord(t, ds, "tx-1", base)

		now := base.Add(time.Minute)
		worker := publisher.NewWorker(ds.Outbox(), bus, testConfig(), rand.New(rand.NewSource(1))).
			WithClock(func() time.Time { return now })

		worker.ProcessBatch(ctx)

		got := recordByID(t, ds, record.ID)
		if got.Status != domain.OutboxStatusPending {
			t.Fatalf("expected PENDING after retry, got %s", got.Status)
		}
		if got.RetryCount != 1 {
			t.Errorf("expected retry count 1, got %d", got.RetryCount)
		}
		if got.NextRetryAt == nil {
			t.Fatal("expected next_retry_at to be set")
		}
		// First retry: initial interval plus up to one second of jitter.
		delay := got.NextRetryAt.Sub(now)
		if delay < time.Second || delay > 2*time.Second {
			t.Errorf("expected delay in [1s, 2s], got %s", delay)
		}
		if got.LastError == "" {
			t.Error("expected last_error to be recorded")
		}
	})

	t.Run("record not yet due is not claimed", func(t *testing.T) {
		ds := memory.NewDataStore()
		bus := &fakeBus{}
		record := stageRecord(t, ds, "tx-1", base)
		due := base.Add(time.Hour)
		record.NextRetryAt = &due

		worker := publisher.NewWorker(ds.Outbox(), bus, testConfig(), rand.New(rand.NewSource(1))).
			WithClock(func() time.Time { return base.Add(time.Minute) })

		worker.ProcessBatch(ctx)

		if len(bus.publishedKeys()) != 0 {
			t.Error("expected no publishes before the retry time")
		}
		if got := recordByID(t, ds, record.ID); got.Status != domain.OutboxStatusPending {
			t.Errorf("expected record to stay PENDING, got %s", got.Status)
		}
	})

	t.Run("exhausted retries mark the record FAILED", func(t *testing.T) {
		ds := memory.NewDataStore()
		bus := &fakeBus{failing: true}
		record := stageRecord(t, ds, "tx-1", base)
		record.RetryCount = 2 // MaxRetries is 3; next failure exhausts

		worker := publisher.NewWorker(ds.Outbox(), bus, testConfig(), rand.New(rand.NewSource(1))).
			WithClock(func() time.Time { return base.Add(time.Minute) })

		worker.ProcessBatch(ctx)

		got := recordByID(t, ds, record.ID)
		if got.Status != domain.OutboxStatusFailed {
			t.Fatalf("expected FAILED, got %s", got.Status)
		}
		if got.LastError == "" {
			t.Error("expected last_error to be recorded")
		}
	})

	t.Run("recovers and publishes after the bus comes back", func(t *testing.T) {
		ds := memory.NewDataStore()
		bus := &fakeBus{failing: true}
		record := stageRecord(t, ds, "tx-1", base)

		now := base.Add(time.Minute)
		worker := publisher.NewWorker(ds.Outbox(), bus, testConfig(), rand.New(rand.NewSource(1))).
			WithClock(func() time.Time { return now })

		worker.ProcessBatch(ctx) // fails, schedules retry

		bus.setFailing(false)
		now = now.Add(time.Hour) // past any backoff

		worker.ProcessBatch(ctx)

		got := recordByID(t, ds, record.ID)
		if got.Status != domain.OutboxStatusPublished {
			t.Fatalf("expected PUBLISHED after recovery, got %s", got.Status)
		}
		if keys := bus.publishedKeys(); len(keys) != 1 || keys[0] != "tx-1" {
			t.Errorf("expected one publish of tx-1, got %v", keys)
		}
	})

	t.Run("stuck PROCESSING record is reclaimed after the lease", func(t *testing.T) {
		ds := memory.NewDataStore()
		bus := &fakeBus{}
		record := stageRecord(t, ds, "tx-1", base)

		// Simulate a worker that claimed the record and crashed.
		claimedAt := base
		record.Status = domain.OutboxStatusProcessing
		record.ProcessingAt = &claimedAt

		cfg := testConfig()
		cfg.ClaimLease = time.Minute

		t.Run("within the lease nothing happens", func(t *testing.T) {
			worker := publisher.NewWorker(ds.Outbox(), bus, cfg, rand.New(rand.NewSource(1))).
				WithClock(func() time.Time { return base.Add(30 * time.Second) })
			worker.ProcessBatch(ctx)
			if len(bus.publishedKeys()) != 0 {
				t.Error("expected no publishes while the lease is live")
			}
		})

		t.Run("after the lease the record is republished", func(t *testing.T) {
			worker := publisher.NewWorker(ds.Outbox(), bus, cfg, rand.New(rand.NewSource(1))).
				WithClock(func() time.Time { return base.Add(2 * time.Minute) })
			worker.ProcessBatch(ctx)

			got := recordByID(t, ds, record.ID)
			if got.Status != domain.OutboxStatusPublished {
				t.Fatalf("expected PUBLISHED after reclaim, got %s", got.Status)
			}
			if keys := bus.publishedKeys(); len(keys) != 1 {
				t.Errorf("expected one publish, got %v", keys)
			}
		})
	})
}

func TestWorker_ConcurrentWorkersScheduleRetries(t *testing.T) {
	ds := memory.NewDataStore()
	bus := &fakeBus{failing: true}

	const records = 200
	base := time.Now().UTC()
	for i := range records {
		stageRecord(t, ds, fmt.Sprintf("tx-%d", i), base.Add(time.Duration(i)*time.Millisecond))
	}

	cfg := testConfig()
	cfg.Workers = 4
	cfg.PollInterval = 5 * time.Millisecond
	cfg.BatchSize = 10

	worker := publisher.NewWorker(ds.Outbox(), bus, cfg, rand.New(rand.NewSource(1)))
	worker.Start(context.Background())

	// Wait until every record's first publish has been attempted, however
	// the four loops interleave, then settle the workers before inspecting.
	deadline := time.After(5 * time.Second)
	for bus.attemptCount() < records {
		select {
		case <-deadline:
			worker.Stop()
			t.Fatalf("expected %d publish attempts, got %d", records, bus.attemptCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	worker.Stop()

	outbox := ds.Outbox().(*memory.OutboxRepository)
	for _, rec := range outbox.Records() {
		if rec.Status != domain.OutboxStatusPending {
			t.Fatalf("expected PENDING after failed publish, got %s", rec.Status)
		}
		if rec.RetryCount < 1 {
			t.Fatal("expected a retry to be recorded for every record")
		}
		if rec.NextRetryAt == nil {
			t.Fatal("expected next_retry_at to be scheduled")
		}
	}
}

func TestWorker_StartDrainsBacklogImmediately(t *testing.T) {
	ds := memory.NewDataStore()
	bus := &fakeBus{}
	stageRecord(t, ds, "tx-1", time.Now().UTC())

	// With an hour-long poll interval only the startup drain can publish
	// within the test deadline.
	cfg := testConfig()
	cfg.PollInterval = time.Hour

	worker := publisher.NewWorker(ds.Outbox(), bus, cfg, rand.New(rand.NewSource(1)))
	worker.Start(context.Background())
	defer worker.Stop()

	deadline := time.After(2 * time.Second)
	for len(bus.publishedKeys()) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected the backlog to be drained at startup")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if keys := bus.publishedKeys(); len(keys) != 1 || keys[0] != "tx-1" {
		t.Errorf("expected one publish of tx-1, got %v", keys)
	}
}

func TestWorker_StartStop(t *testing.T) {
	ds := memory.NewDataStore()
	bus := &fakeBus{}
	stageRecord(t, ds, "tx-1", time.Now().UTC())

	worker := publisher.NewWorker(ds.Outbox(), bus, testConfig(), rand.New(rand.NewSource(1)))
	worker.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for len(bus.publishedKeys()) == 0 {
		select {
		case <-deadline:
			worker.Stop()
			t.Fatal("worker did not publish within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	worker.Stop()

	if keys := bus.publishedKeys(); len(keys) != 1 || keys[0] != "tx-1" {
		t.Errorf("expected one publish of tx-1, got %v", keys)
	}
}
