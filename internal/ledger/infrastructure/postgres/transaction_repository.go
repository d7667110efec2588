package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tally/internal/ledger/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// TransactionRepository implements domain.TransactionRepository using PostgreSQL.
// Transactions and their entries are append-only; there are no update paths.
type TransactionRepository struct {
	db Executor
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(db Executor) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// InsertWithEntries persists the transaction header and its postings.
// The unique constraint on idempotency_key is the authoritative dedup guard;
// a violation maps to ErrDuplicateIdempotencyKey so callers can treat a
// concurrent replay as a conflict rather than a storage failure.
func (r *TransactionRepository) InsertWithEntries(ctx context.Context, tx *domain.Transaction, entries []domain.Entry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ledger.transactions (
			id, idempotency_key, reference_id, status, booked_at
		) VALUES ($1, $2, $3, $4, $5)`,
		tx.ID().String(),
		tx.IdempotencyKey(),
		tx.ReferenceID(),
		string(tx.Status()),
		tx.BookedAt(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateIdempotencyKey
		}
		return err
	}

	for _, entry := range entries {
		_, err := r.db.Exec(ctx, `
			INSERT INTO ledger.transaction_entries (
				id, transaction_id, account_id, amount, currency, direction
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.ID().String(),
			entry.TransactionID().String(),
			entry.AccountID().String(),
			entry.Amount().Amount,
			entry.Amount().Currency.String(),
			string(entry.Direction()),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// FindByIdempotencyKey retrieves the transaction committed under the key.
func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	var (
		id          string
		idemKey     string
		referenceID string
		status      string
		bookedAt    time.Time
	)

	err := r.db.QueryRow(ctx, `
		SELECT id, idempotency_key, reference_id, status, booked_at
		FROM ledger.transactions
		WHERE idempotency_key = $1`,
		key,
	).Scan(&id, &idemKey, &referenceID, &status, &bookedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	parsedID, err := domain.ParseTransactionID(id)
	if err != nil {
		return nil, domain.ErrCorruptData
	}

	return domain.ReconstructTransaction(
		parsedID,
		idemKey,
		referenceID,
		domain.TransactionStatus(status),
		bookedAt,
	), nil
}

// ExistsByIdempotencyKey reports whether a transaction was committed under the key.
func (r *TransactionRepository) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger.transactions WHERE idempotency_key = $1)`,
		key,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Verify interface implementation.
var _ domain.TransactionRepository = (*TransactionRepository)(nil)
