package publisher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"tally/internal/common/logging"
	"tally/internal/common/metrics"
	"tally/internal/ledger/domain"
)

// EventBus is the outbound port the worker publishes through.
// A nil error means the bus durably accepted the event.
type EventBus interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// retentionSweepInterval is how often published records are purged.
const retentionSweepInterval = time.Hour

// Config holds the worker's tuning knobs.
type Config struct {
	PollInterval       time.Duration
	BatchSize          int
	ClaimLease         time.Duration
	PublishTimeout     time.Duration
	Workers            int
	PublishedRetention time.Duration
	Retry              RetryPolicy
	MaxRetries         int
}

// Worker drains the outbox: it claims batches of pending records, publishes
// them to the bus, and settles each record PUBLISHED, PENDING (retry), or
// FAILED. Claims carry a lease; records abandoned by a crashed worker are
// reclaimed once the lease expires, so delivery is at-least-once.
//
// Multiple workers are safe against one store: the claim query hands each
// record to exactly one claimant.
type Worker struct {
	outbox domain.OutboxRepository
	bus    EventBus
	cfg    Config

	rnd *rand.Rand
	now func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a publisher worker. The random source feeds retry
// jitter; pass a seeded source in tests for deterministic delays.
func NewWorker(outbox domain.OutboxRepository, bus EventBus, cfg Config, rnd *rand.Rand) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Worker{
		outbox: outbox,
		bus:    bus,
		cfg:    cfg,
		rnd:    rnd,
		now:    time.Now,
	}
}

// WithClock overrides the worker clock. Intended for tests.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Start launches the polling loops and the retention sweeper.
// It returns immediately; call Stop to drain and wait.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.cfg.Workers; i++ {
		// *rand.Rand is not safe for concurrent use; each loop derives
		// its own generator from the injected source.
		rnd := rand.New(rand.NewSource(w.rnd.Int63()))
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.pollLoop(ctx, rnd)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.retentionLoop(ctx)
	}()

	logging.Info("Outbox publisher started",
		"workers", w.cfg.Workers,
		"poll_interval", w.cfg.PollInterval.String(),
		"batch_size", w.cfg.BatchSize,
	)
}

// Stop signals the loops to finish and waits for in-flight batches.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	logging.Info("Outbox publisher stopped")
}

func (w *Worker) pollLoop(ctx context.Context, rnd *rand.Rand) {
	// Drain any backlog right away; the ticker only fires after the
	// first interval.
	w.processBatch(ctx, rnd)
	w.updatePendingGauge(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processBatch(ctx, rnd)
			w.updatePendingGauge(ctx)
		}
	}
}

// ProcessBatch claims and publishes one batch. Exported so tests can drive
// the worker without the ticker.
func (w *Worker) ProcessBatch(ctx context.Context) {
	w.processBatch(ctx, w.rnd)
}

func (w *Worker) processBatch(ctx context.Context, rnd *rand.Rand) {
	records, err := w.outbox.ClaimPending(ctx, w.cfg.BatchSize, w.now(), w.cfg.ClaimLease)
	if err != nil {
		logging.ErrorContext(ctx, "Outbox claim failed", "error", err)
		return
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		w.publishOne(ctx, record, rnd)
	}
}

// publishOne publishes a single claimed record and settles its status.
// Settle errors are logged, not retried: a record stuck in PROCESSING is
// reclaimed after the lease expires.
func (w *Worker) publishOne(ctx context.Context, record *domain.OutboxRecord, rnd *rand.Rand) {
	publishCtx, cancel := context.WithTimeout(ctx, w.cfg.PublishTimeout)
	defer cancel()

	start := w.now()
	err := w.bus.Publish(publishCtx, record.Topic, record.AggregateID, record.Payload)
	metrics.PublishDuration.Observe(w.now().Sub(start).Seconds())

	if err == nil {
		if err := w.outbox.MarkPublished(ctx, record.ID, w.now()); err != nil {
			logging.ErrorContext(ctx, "Outbox settle failed",
				"event_id", record.ID.String(), "error", err)
			return
		}
		metrics.OutboxPublishedTotal.Inc()
		logging.DebugContext(ctx, "Outbox record published",
			"event_id", record.ID.String(),
			"event_type", record.EventType,
		)
		return
	}

	newRetryCount := record.RetryCount + 1

	// Records staged without a cap fall back to the configured one.
	if record.MaxRetries <= 0 {
		record.MaxRetries = w.cfg.MaxRetries
	}

	if record.Exhausted(newRetryCount) {
		if markErr := w.outbox.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			logging.ErrorContext(ctx, "Outbox settle failed",
				"event_id", record.ID.String(), "error", markErr)
			return
		}
		metrics.OutboxFailedTotal.Inc()
		logging.ErrorContext(ctx, "Outbox record exhausted retries",
			"event_id", record.ID.String(),
			"event_type", record.EventType,
			"retry_count", newRetryCount,
			"error", err,
		)
		return
	}

	nextRetryAt := w.now().Add(w.cfg.Retry.Delay(newRetryCount, rnd))
	if markErr := w.outbox.MarkRetry(ctx, record.ID, newRetryCount, nextRetryAt, err.Error()); markErr != nil {
		logging.ErrorContext(ctx, "Outbox settle failed",
			"event_id", record.ID.String(), "error", markErr)
		return
	}
	metrics.OutboxRetriesTotal.Inc()
	logging.WarnContext(ctx, "Outbox publish failed, retry scheduled",
		"event_id", record.ID.String(),
		"retry_count", newRetryCount,
		"next_retry_at", nextRetryAt.UTC().Format(time.RFC3339),
		"error", err,
	)
}

func (w *Worker) updatePendingGauge(ctx context.Context) {
	count, err := w.outbox.CountPending(ctx)
	if err != nil {
		return
	}
	metrics.OutboxPendingRecords.Set(float64(count))
}

func (w *Worker) retentionLoop(ctx context.Context) {
	if w.cfg.PublishedRetention <= 0 {
		return
	}

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			olderThan := w.now().Add(-w.cfg.PublishedRetention)
			removed, err := w.outbox.DeleteOldPublished(ctx, olderThan)
			if err != nil {
				logging.ErrorContext(ctx, "Outbox retention sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logging.Info("Outbox retention sweep", "removed", removed)
			}
		}
	}
}
