package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tally/internal/common/types"
	"tally/internal/ledger/domain"
	"tally/internal/ledger/infrastructure/postgres"
)

// OutboxRepositorySuite tests the outbox state machine against a real Postgres
// instance.
//
// Justification: claim atomicity rests on FOR UPDATE SKIP LOCKED inside a
// single UPDATE statement, and the settle guards rest on RowsAffected - both
// need real Postgres.
type OutboxRepositorySuite struct {
	suite.Suite
	ctx  context.Context
	repo *postgres.OutboxRepository
}

func TestOutboxRepositorySuite(t *testing.T) {
	suite.Run(t, new(OutboxRepositorySuite))
}

func (s *OutboxRepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(truncateTables(s.ctx, getTestPool()))
	s.repo = postgres.NewOutboxRepository(getTestPool())
}

func (s *OutboxRepositorySuite) stageRecord(aggregateID string, createdAt time.Time) *domain.OutboxRecord {
	record := &domain.OutboxRecord{
		ID:            types.NewEventID(),
		AggregateID:   aggregateID,
		AggregateType: domain.AggregateTypeTransaction,
		EventType:     domain.EventTypeTransactionCreated,
		Payload:       []byte(`{"transactionId":"` + aggregateID + `"}`),
		Topic:         "transaction-events",
		Status:        domain.OutboxStatusPending,
		MaxRetries:    domain.DefaultMaxRetries,
		CreatedAt:     createdAt,
	}
	s.Require().NoError(s.repo.Append(s.ctx, record))
	return record
}

func (s *OutboxRepositorySuite) TestClaimPending() {
	now := time.Now().UTC()

	s.Run("claims pending records in creation order and marks them PROCESSING", func() {
		s.Require().NoError(truncateTables(s.ctx, getTestPool()))
		first := s.stageRecord("tx-1", now.Add(-2*time.Second))
		second := s.stageRecord("tx-2", now.Add(-time.Second))

		claimed, err := s.repo.ClaimPending(s.ctx, 10, now, time.Minute)
		s.Require().NoError(err)
		s.Require().Len(claimed, 2)
		s.Equal(first.ID, claimed[0].ID)
		s.Equal(second.ID, claimed[1].ID)
		for _, rec := range claimed {
			s.Equal(domain.OutboxStatusProcessing, rec.Status)
			s.NotNil(rec.ProcessingAt)
		}

		// A second claim finds nothing while the lease is live.
		again, err := s.repo.ClaimPending(s.ctx, 10, now, time.Minute)
		s.Require().NoError(err)
		s.Empty(again)
	})

	s.Run("respects the batch size", func() {
		s.Require().NoError(truncateTables(s.ctx, getTestPool()))
		s.stageRecord("tx-1", now.Add(-3*time.Second))
		s.stageRecord("tx-2", now.Add(-2*time.Second))
		s.stageRecord("tx-3", now.Add(-time.Second))

		claimed, err := s.repo.ClaimPending(s.ctx, 2, now, time.Minute)
		s.Require().NoError(err)
		s.Len(claimed, 2)
	})

	s.Run("skips records whose retry time has not arrived", func() {
		s.Require().NoError(truncateTables(s.ctx, getTestPool()))
		record := s.stageRecord("tx-later", now)

		// Claim and push the record out with a future retry time.
		claimedOnce, err := s.repo.ClaimPending(s.ctx, 1, now, time.Minute)
		s.Require().NoError(err)
		s.Require().Len(claimedOnce, 1)
		s.Require().NoError(s.repo.MarkRetry(s.ctx, record.ID, 1, now.Add(time.Hour), "broker down"))

		claimed, err := s.repo.ClaimPending(s.ctx, 10, now, time.Minute)
		s.Require().NoError(err)
		s.Empty(claimed)

		// Once the retry time passes the record is eligible again.
		claimed, err = s.repo.ClaimPending(s.ctx, 10, now.Add(2*time.Hour), time.Minute)
		s.Require().NoError(err)
		s.Require().Len(claimed, 1)
		s.Equal(record.ID, claimed[0].ID)
		s.Equal(1, claimed[0].RetryCount)
	})

	s.Run("reclaims PROCESSING records after the lease expires", func() {
		s.Require().NoError(truncateTables(s.ctx, getTestPool()))
		record := s.stageRecord("tx-stuck", now)

		claimed, err := s.repo.ClaimPending(s.ctx, 1, now, time.Minute)
		s.Require().NoError(err)
		s.Require().Len(claimed, 1)

		// Within the lease the record stays with its claimant.
		within, err := s.repo.ClaimPending(s.ctx, 10, now.Add(30*time.Second), time.Minute)
		s.Require().NoError(err)
		s.Empty(within)

		// Past the lease another worker picks it up.
		reclaimed, err := s.repo.ClaimPending(s.ctx, 10, now.Add(2*time.Minute), time.Minute)
		s.Require().NoError(err)
		s.Require().Len(reclaimed, 1)
		s.Equal(record.ID, reclaimed[0].ID)
	})
}

func (s *OutboxRepositorySuite) TestSettle() {
	now := time.Now().UTC()

	s.Run("MarkPublished settles a claimed record", func() {
		s.Require().NoError(truncateTables(s.ctx, getTestPool()))
		record := s.stageRecord("tx-pub", now)

		claimed, err := s.repo.ClaimPending(s.ctx, 1, now, time.Minute)
		s.Require().NoError(err)
		s.Require().Len(claimed, 1)

		s.Require().NoError(s.repo.MarkPublished(s.ctx, record.ID, now))

		// Terminal: no further claims.
		again, err := s.repo.ClaimPending(s.ctx, 10, now.Add(time.Hour), time.Minute)
		s.Require().NoError(err)
		s.Empty(again)
	})

	s.Run("settling an unclaimed record fails", func() {
		s.Require().NoError(truncateTables(s.ctx, getTestPool()))
		record := s.stageRecord("tx-unclaimed", now)

		err := s.repo.MarkPublished(s.ctx, record.ID, now)
		s.ErrorIs(err, domain.ErrInvalidStateTransition)

		err = s.repo.MarkRetry(s.ctx, record.ID, 1, now.Add(time.Second), "x")
		s.ErrorIs(err, domain.ErrInvalidStateTransition)

		err = s.repo.MarkFailed(s.ctx, record.ID, "x")
		s.ErrorIs(err, domain.ErrInvalidStateTransition)
	})

	s.Run("MarkFailed is terminal", func() {
		s.Require().NoError(truncateTables(s.ctx, getTestPool()))
		record := s.stageRecord("tx-fail", now)

		claimed, err := s.repo.ClaimPending(s.ctx, 1, now, time.Minute)
		s.Require().NoError(err)
		s.Require().Len(claimed, 1)

		s.Require().NoError(s.repo.MarkFailed(s.ctx, record.ID, "gave up"))

		again, err := s.repo.ClaimPending(s.ctx, 10, now.Add(time.Hour), time.Minute)
		s.Require().NoError(err)
		s.Empty(again)
	})
}

func (s *OutboxRepositorySuite) TestHousekeeping() {
	now := time.Now().UTC()

	s.Run("CountPending covers PENDING and PROCESSING", func() {
		s.Require().NoError(truncateTables(s.ctx, getTestPool()))
		s.stageRecord("tx-1", now)
		s.stageRecord("tx-2", now)

		count, err := s.repo.CountPending(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(2), count)

		_, err = s.repo.ClaimPending(s.ctx, 1, now, time.Minute)
		s.Require().NoError(err)

		count, err = s.repo.CountPending(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(2), count)
	})

	s.Run("DeleteOldPublished removes only aged PUBLISHED records", func() {
		s.Require().NoError(truncateTables(s.ctx, getTestPool()))
		old := s.stageRecord("tx-old", now.Add(-48*time.Hour))
		fresh := s.stageRecord("tx-fresh", now)

		claimed, err := s.repo.ClaimPending(s.ctx, 10, now, time.Minute)
		s.Require().NoError(err)
		s.Require().Len(claimed, 2)
		s.Require().NoError(s.repo.MarkPublished(s.ctx, old.ID, now.Add(-24*time.Hour)))
		s.Require().NoError(s.repo.MarkPublished(s.ctx, fresh.ID, now))

		removed, err := s.repo.DeleteOldPublished(s.ctx, now.Add(-time.Hour))
		s.Require().NoError(err)
		s.Equal(int64(1), removed)

		count, err := s.repo.CountPending(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(0), count)
	})
}
