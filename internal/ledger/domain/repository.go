package domain

import (
	"context"
	"time"

	"tally/internal/common/types"
)

// AccountRepository defines the interface for account persistence.
type AccountRepository interface {
	// LockByID loads the account under a pessimistic write lock
	// (SELECT ... FOR UPDATE). It blocks until any concurrent holder
	// commits or rolls back, and returns the post-lock snapshot.
	// Must be called inside an Atomic callback; callers lock accounts
	// in canonical id order (see OrderAccountIDs).
	// Returns ErrAccountNotFound when no record exists.
	LockByID(ctx context.Context, id AccountID) (*Account, error)
	// FindByID retrieves an account without locking (read paths).
	// Returns ErrAccountNotFound when no record exists.
	FindByID(ctx context.Context, id AccountID) (*Account, error)
	// Save persists balance and version. The write is guarded by the
	// expected prior version; a mismatch returns ErrStaleVersion.
	Save(ctx context.Context, account *Account) error
	// Insert persists a newly created account (provisioning/test fixtures).
	Insert(ctx context.Context, account *Account) error
}

// TransactionRepository defines the interface for transaction persistence.
// Transactions and their entries are append-only.
type TransactionRepository interface {
	// InsertWithEntries persists the header and its postings together.
	// Returns ErrDuplicateIdempotencyKey on an idempotency key collision
	// (the unique constraint is the authoritative dedup guard).
	InsertWithEntries(ctx context.Context, tx *Transaction, entries []Entry) error
	// FindByIdempotencyKey retrieves the transaction committed under the key.
	// Returns ErrTransactionNotFound when no record exists.
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	// ExistsByIdempotencyKey is a non-locking existence probe. It is an
	// optimization only; the unique constraint remains the correctness guard.
	ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error)
}

// OutboxRepository defines the interface for the transactional outbox.
// Append participates in the caller's atomic unit; the claim and settle
// operations each run in their own unit of work so that no database
// transaction is ever held across a bus publish.
type OutboxRepository interface {
	// Append stages a PENDING record inside the current transaction.
	Append(ctx context.Context, record *OutboxRecord) error
	// ClaimPending atomically claims up to batchSize records for this worker:
	// PENDING records whose next_retry_at has passed, plus PROCESSING records
	// whose claim is older than lease (abandoned by a crashed worker).
	// Claimed records are returned in creation order with status PROCESSING.
	// Two concurrent callers never receive the same record.
	ClaimPending(ctx context.Context, batchSize int, now time.Time, lease time.Duration) ([]*OutboxRecord, error)
	// MarkPublished settles PROCESSING -> PUBLISHED (terminal).
	MarkPublished(ctx context.Context, id types.EventID, now time.Time) error
	// MarkRetry settles PROCESSING -> PENDING with the retry bookkeeping.
	MarkRetry(ctx context.Context, id types.EventID, retryCount int, nextRetryAt time.Time, errMsg string) error
	// MarkFailed settles PROCESSING -> FAILED (terminal, operator attention).
	MarkFailed(ctx context.Context, id types.EventID, errMsg string) error
	// CountPending reports the number of unpublished records (metrics).
	CountPending(ctx context.Context) (int64, error)
	// DeleteOldPublished removes PUBLISHED records older than the threshold.
	DeleteOldPublished(ctx context.Context, olderThan time.Time) (int64, error)
}

// Repositories provides access to all repositories within a transaction.
// This is used with the Atomic pattern to ensure all operations share the same transaction.
type Repositories interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	Outbox() OutboxRepository
}

// AtomicCallback is the function signature for atomic operations.
// Any error returned will cause the transaction to be rolled back.
type AtomicCallback func(repos Repositories) error

// AtomicExecutor runs a callback inside one unit of work.
//
// The service is responsible for requesting an atomic operation with a set of
// procedures defined in the callback. All other concerns like commits and
// rollbacks are left for the datastore to implement.
//
// Example usage:
//
//	err := executor.Atomic(ctx, func(repos Repositories) error {
//	    account, err := repos.Accounts().LockByID(ctx, id)
//	    if err != nil {
//	        return err
//	    }
//	    if err := account.Debit(amount, now); err != nil {
//	        return err
//	    }
//	    return repos.Accounts().Save(ctx, account)
//	})
type AtomicExecutor interface {
	// Atomic executes the callback within a database transaction.
	// If the callback returns nil, the transaction is committed.
	// If the callback returns an error, the transaction is rolled back.
	Atomic(ctx context.Context, fn AtomicCallback) error
}
