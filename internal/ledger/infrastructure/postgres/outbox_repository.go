package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tally/internal/common/types"
	"tally/internal/ledger/domain"
)

// OutboxRepository implements domain.OutboxRepository using PostgreSQL.
// This implements the outbox pattern for reliable event publishing.
//
// Events are written to the outbox within the same transaction as domain changes,
// then published asynchronously by a separate process (outbox publisher).
type OutboxRepository struct {
	db Executor
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db Executor) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Append adds an event to the outbox.
// It persists the event payload and metadata as part of the current transaction.
func (r *OutboxRepository) Append(ctx context.Context, record *domain.OutboxRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ledger.outbox_events (
			id, aggregate_id, aggregate_type, type, payload, topic,
			status, retry_count, max_retries, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID.String(),
		record.AggregateID,
		record.AggregateType,
		record.EventType,
		record.Payload,
		record.Topic,
		string(record.Status),
		record.RetryCount,
		record.MaxRetries,
		record.CreatedAt,
	)
	return err
}

// ClaimPending atomically claims up to batchSize records for this worker.
// Eligible records are PENDING rows whose retry time has passed, plus
// PROCESSING rows whose claim is older than the lease (abandoned by a
// crashed worker). The claim is a single statement, so it runs in its own
// implicit transaction; FOR UPDATE SKIP LOCKED keeps concurrent workers
// from ever claiming the same row.
func (r *OutboxRepository) ClaimPending(ctx context.Context, batchSize int, now time.Time, lease time.Duration) ([]*domain.OutboxRecord, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE ledger.outbox_events
		SET status = 'PROCESSING',
			processing_at = $2
		WHERE id IN (
			SELECT id FROM ledger.outbox_events
			WHERE (status = 'PENDING' AND (next_retry_at IS NULL OR next_retry_at <= $2))
			   OR (status = 'PROCESSING' AND processing_at <= $3)
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_id, aggregate_type, type, payload, topic,
			status, retry_count, max_retries,
			next_retry_at, processing_at, published_at, last_error, created_at`,
		batchSize, now, now.Add(-lease),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.OutboxRecord
	for rows.Next() {
		var (
			id            string
			aggregateID   string
			aggregateType string
			eventType     string
			payload       []byte
			topic         string
			status        string
			retryCount    int
			maxRetries    int
			nextRetryAt   *time.Time
			processingAt  *time.Time
			publishedAt   *time.Time
			lastError     string
			createdAt     time.Time
		)
		if err := rows.Scan(
			&id, &aggregateID, &aggregateType, &eventType, &payload, &topic,
			&status, &retryCount, &maxRetries,
			&nextRetryAt, &processingAt, &publishedAt, &lastError, &createdAt,
		); err != nil {
			return nil, err
		}

		eventID, err := types.ParseEventID(id)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid event id: %v", domain.ErrCorruptData, err)
		}

		records = append(records, &domain.OutboxRecord{
			ID:            eventID,
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			EventType:     eventType,
			Payload:       payload,
			Topic:         topic,
			Status:        domain.OutboxStatus(status),
			RetryCount:    retryCount,
			MaxRetries:    maxRetries,
			NextRetryAt:   nextRetryAt,
			ProcessingAt:  processingAt,
			PublishedAt:   publishedAt,
			LastError:     lastError,
			CreatedAt:     createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not guarantee row order; restore creation order.
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

// MarkPublished settles PROCESSING -> PUBLISHED (terminal).
func (r *OutboxRepository) MarkPublished(ctx context.Context, id types.EventID, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ledger.outbox_events
		SET status = 'PUBLISHED',
			published_at = $1,
			processing_at = NULL
		WHERE id = $2 AND status = 'PROCESSING'`,
		now, id.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s is not PROCESSING", domain.ErrInvalidStateTransition, id.String())
	}
	return nil
}

// MarkRetry settles PROCESSING -> PENDING with the retry bookkeeping.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id types.EventID, retryCount int, nextRetryAt time.Time, errMsg string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ledger.outbox_events
		SET status = 'PENDING',
			retry_count = $1,
			next_retry_at = $2,
			last_error = $3,
			processing_at = NULL
		WHERE id = $4 AND status = 'PROCESSING'`,
		retryCount, nextRetryAt, domain.TruncateError(errMsg), id.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s is not PROCESSING", domain.ErrInvalidStateTransition, id.String())
	}
	return nil
}

// MarkFailed settles PROCESSING -> FAILED (terminal, needs operator attention).
func (r *OutboxRepository) MarkFailed(ctx context.Context, id types.EventID, errMsg string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ledger.outbox_events
		SET status = 'FAILED',
			last_error = $1,
			processing_at = NULL
		WHERE id = $2 AND status = 'PROCESSING'`,
		domain.TruncateError(errMsg), id.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s is not PROCESSING", domain.ErrInvalidStateTransition, id.String())
	}
	return nil
}

// CountPending reports the number of records still awaiting publication.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger.outbox_events WHERE status IN ('PENDING', 'PROCESSING')`,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteOldPublished removes PUBLISHED records older than the threshold.
// Terminal PUBLISHED rows are only kept for auditing; this bounds table growth.
func (r *OutboxRepository) DeleteOldPublished(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM ledger.outbox_events WHERE status = 'PUBLISHED' AND published_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Verify interface implementation.
var _ domain.OutboxRepository = (*OutboxRepository)(nil)
