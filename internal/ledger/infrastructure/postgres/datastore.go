package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tally/internal/ledger/domain"
)

type DataStore struct {
	pool            *pgxpool.Pool
	accountRepo     *AccountRepository
	transactionRepo *TransactionRepository
	outboxRepo      *OutboxRepository
}

// NewDataStore creates a new DataStore with the given connection pool.
func NewDataStore(pool *pgxpool.Pool) *DataStore {
	return &DataStore{
		pool:            pool,
		accountRepo:     NewAccountRepository(pool),
		transactionRepo: NewTransactionRepository(pool),
		outboxRepo:      NewOutboxRepository(pool),
	}
}

// Accounts returns the account repository.
func (ds *DataStore) Accounts() domain.AccountRepository {
	return ds.accountRepo
}

// Transactions returns the transaction repository.
func (ds *DataStore) Transactions() domain.TransactionRepository {
	return ds.transactionRepo
}

// Outbox returns the outbox repository.
func (ds *DataStore) Outbox() domain.OutboxRepository {
	return ds.outboxRepo
}

// withTx creates a new DataStore with transactional repositories.
// This is the key to the Atomic pattern - we create new repository instances
// that share the same transaction.
func (ds *DataStore) withTx(tx pgx.Tx) *DataStore {
	return &DataStore{
		pool:            ds.pool,
		accountRepo:     NewAccountRepository(tx),
		transactionRepo: NewTransactionRepository(tx),
		outboxRepo:      NewOutboxRepository(tx),
	}
}

// Atomic executes the callback within a database transaction.
// If the callback returns nil, the transaction is committed.
// If the callback returns an error or panics, the transaction is rolled back.
//
// - The service is responsible for requesting an atomic operation with procedures defined in the callback
// - All concerns like commits and rollbacks are handled by the repository
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) (err error) {
	// Pin the isolation level; the engine relies on READ COMMITTED row-lock
	// semantics and must not inherit a stricter server default.
	tx, err := ds.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Use defer to handle both errors and panics
	defer func() {
		if p := recover(); p != nil {
			// Rollback on panic
			_ = tx.Rollback(ctx)
			panic(p) // Re-throw the panic
		}
		if err != nil {
			// Rollback on error
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("tx error: %v, rollback error: %v", err, rbErr)
			}
		} else {
			// Commit on success
			err = tx.Commit(ctx)
			if err != nil {
				err = fmt.Errorf("commit transaction: %w", err)
			}
		}
	}()

	// Create transactional DataStore and execute callback
	txDataStore := ds.withTx(tx)
	err = fn(txDataStore)
	return
}

// Verify interface implementations.
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
)
