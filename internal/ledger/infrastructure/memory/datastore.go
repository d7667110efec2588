package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tally/internal/common/types"
	"tally/internal/ledger/domain"
)

// DataStore implements domain.AtomicExecutor and domain.Repositories for testing.
// It provides an in-memory implementation that supports the Atomic pattern.
// Concurrency: all access is guarded by a mutex.
type DataStore struct {
	mu           sync.RWMutex
	accounts     map[string]*domain.Account
	transactions map[string]*domain.Transaction // keyed by idempotency key
	entries      []domain.Entry
	outbox       []*domain.OutboxRecord

	accountRepo     *AccountRepository
	transactionRepo *TransactionRepository
	outboxRepo      *OutboxRepository
}

// NewDataStore creates a new in-memory DataStore.
func NewDataStore() *DataStore {
	ds := &DataStore{
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*domain.Transaction),
		entries:      make([]domain.Entry, 0),
		outbox:       make([]*domain.OutboxRecord, 0),
	}

	ds.accountRepo = &AccountRepository{store: ds}
	ds.transactionRepo = &TransactionRepository{store: ds}
	ds.outboxRepo = &OutboxRepository{store: ds}

	return ds
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

// Atomic executes the callback atomically.
// It locks the store, runs the callback against a transactional snapshot,
// and commits staged changes only if the callback succeeds.
// Concurrency: the store is locked for the duration of the callback, which
// also gives each transfer the serialized view the row locks give in Postgres.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	// Create a transaction snapshot
	tx := &transactionalDataStore{
		parent:             ds,
		stagedAccounts:     make(map[string]*domain.Account),
		stagedTransactions: make(map[string]*domain.Transaction),
		stagedEntries:      make([]domain.Entry, 0),
		stagedOutbox:       make([]*domain.OutboxRecord, 0),
	}

	// Execute callback with transactional repos
	if err := fn(tx); err != nil {
		return err
	}

	// Commit: apply staged changes
	for k, v := range tx.stagedAccounts {
		ds.accounts[k] = v
	}
	for k, v := range tx.stagedTransactions {
		ds.transactions[k] = v
	}
	ds.entries = append(ds.entries, tx.stagedEntries...)
	ds.outbox = append(ds.outbox, tx.stagedOutbox...)

	return nil
}

// transactionalDataStore provides transaction isolation for memory operations.
type transactionalDataStore struct {
	parent             *DataStore
	stagedAccounts     map[string]*domain.Account
	stagedTransactions map[string]*domain.Transaction
	stagedEntries      []domain.Entry
	stagedOutbox       []*domain.OutboxRecord
}

func (tx *transactionalDataStore) Accounts() domain.AccountRepository {
	return &txAccountRepository{tx: tx}
}

func (tx *transactionalDataStore) Transactions() domain.TransactionRepository {
	return &txTransactionRepository{tx: tx}
}

func (tx *transactionalDataStore) Outbox() domain.OutboxRepository {
	return &txOutboxRepository{tx: tx}
}

// copyAccount clones an account so callers can mutate it without touching
// the committed state until the unit of work commits.
func copyAccount(a *domain.Account) *domain.Account {
	return domain.ReconstructAccount(
		a.ID(), a.UserID(), a.Balance(), a.Version(), a.CreatedAt(), a.UpdatedAt(),
	)
}

// Transactional repository implementations

type txAccountRepository struct {
	tx *transactionalDataStore
}

func (r *txAccountRepository) LockByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	// The store mutex serializes units of work, so a plain read is already
	// a consistent post-lock snapshot.
	return r.find(id)
}

func (r *txAccountRepository) FindByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return r.find(id)
}

func (r *txAccountRepository) find(id domain.AccountID) (*domain.Account, error) {
	key := id.String()
	// Check staged first
	if account, ok := r.tx.stagedAccounts[key]; ok {
		return copyAccount(account), nil
	}
	// Then check parent
	if account, ok := r.tx.parent.accounts[key]; ok {
		return copyAccount(account), nil
	}
	return nil, domain.ErrAccountNotFound
}

func (r *txAccountRepository) Save(ctx context.Context, account *domain.Account) error {
	key := account.ID().String()

	current, ok := r.tx.stagedAccounts[key]
	if !ok {
		current, ok = r.tx.parent.accounts[key]
	}
	if !ok {
		return domain.ErrAccountNotFound
	}
	if current.Version() != account.Version()-1 {
		return domain.ErrStaleVersion
	}

	r.tx.stagedAccounts[key] = copyAccount(account)
	return nil
}

func (r *txAccountRepository) Insert(ctx context.Context, account *domain.Account) error {
	r.tx.stagedAccounts[account.ID().String()] = copyAccount(account)
	return nil
}

type txTransactionRepository struct {
	tx *transactionalDataStore
}

func (r *txTransactionRepository) InsertWithEntries(ctx context.Context, t *domain.Transaction, entries []domain.Entry) error {
	key := t.IdempotencyKey()
	if _, ok := r.tx.stagedTransactions[key]; ok {
		return domain.ErrDuplicateIdempotencyKey
	}
	if _, ok := r.tx.parent.transactions[key]; ok {
		return domain.ErrDuplicateIdempotencyKey
	}
	r.tx.stagedTransactions[key] = t
	r.tx.stagedEntries = append(r.tx.stagedEntries, entries...)
	return nil
}

func (r *txTransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	if t, ok := r.tx.stagedTransactions[key]; ok {
		return t, nil
	}
	if t, ok := r.tx.parent.transactions[key]; ok {
		return t, nil
	}
	return nil, domain.ErrTransactionNotFound
}

func (r *txTransactionRepository) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	_, err := r.FindByIdempotencyKey(ctx, key)
	if err == nil {
		return true, nil
	}
	return false, nil
}

type txOutboxRepository struct {
	tx *transactionalDataStore
}

func (r *txOutboxRepository) Append(ctx context.Context, record *domain.OutboxRecord) error {
	r.tx.stagedOutbox = append(r.tx.stagedOutbox, record)
	return nil
}

func (r *txOutboxRepository) ClaimPending(ctx context.Context, batchSize int, now time.Time, lease time.Duration) ([]*domain.OutboxRecord, error) {
	return claimPending(r.tx.parent.outbox, batchSize, now, lease), nil
}

func (r *txOutboxRepository) MarkPublished(ctx context.Context, id types.EventID, now time.Time) error {
	return markPublished(r.tx.parent.outbox, id, now)
}

func (r *txOutboxRepository) MarkRetry(ctx context.Context, id types.EventID, retryCount int, nextRetryAt time.Time, errMsg string) error {
	return markRetry(r.tx.parent.outbox, id, retryCount, nextRetryAt, errMsg)
}

func (r *txOutboxRepository) MarkFailed(ctx context.Context, id types.EventID, errMsg string) error {
	return markFailed(r.tx.parent.outbox, id, errMsg)
}

func (r *txOutboxRepository) CountPending(ctx context.Context) (int64, error) {
	return countPending(r.tx.parent.outbox) + countPending(r.tx.stagedOutbox), nil
}

func (r *txOutboxRepository) DeleteOldPublished(ctx context.Context, olderThan time.Time) (int64, error) {
	kept, removed := deleteOldPublished(r.tx.parent.outbox, olderThan)
	r.tx.parent.outbox = kept
	return removed, nil
}

// Shared outbox state-machine helpers

func claimPending(records []*domain.OutboxRecord, batchSize int, now time.Time, lease time.Duration) []*domain.OutboxRecord {
	var claimed []*domain.OutboxRecord
	for _, rec := range records {
		if len(claimed) >= batchSize {
			break
		}
		eligible := false
		switch rec.Status {
		case domain.OutboxStatusPending:
			eligible = rec.NextRetryAt == nil || !rec.NextRetryAt.After(now)
		case domain.OutboxStatusProcessing:
			eligible = rec.ProcessingAt != nil && !rec.ProcessingAt.After(now.Add(-lease))
		}
		if !eligible {
			continue
		}
		at := now
		rec.Status = domain.OutboxStatusProcessing
		rec.ProcessingAt = &at
		claimed = append(claimed, rec)
	}
	return claimed
}

func findProcessing(records []*domain.OutboxRecord, id types.EventID) (*domain.OutboxRecord, error) {
	for _, rec := range records {
		if rec.ID == id {
			if rec.Status != domain.OutboxStatusProcessing {
				return nil, fmt.Errorf("%w: event %s is not PROCESSING", domain.ErrInvalidStateTransition, id.String())
			}
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: event %s is not PROCESSING", domain.ErrInvalidStateTransition, id.String())
}

func markPublished(records []*domain.OutboxRecord, id types.EventID, now time.Time) error {
	rec, err := findProcessing(records, id)
	if err != nil {
		return err
	}
	at := now
	rec.Status = domain.OutboxStatusPublished
	rec.PublishedAt = &at
	rec.ProcessingAt = nil
	return nil
}

func markRetry(records []*domain.OutboxRecord, id types.EventID, retryCount int, nextRetryAt time.Time, errMsg string) error {
	rec, err := findProcessing(records, id)
	if err != nil {
		return err
	}
	at := nextRetryAt
	rec.Status = domain.OutboxStatusPending
	rec.RetryCount = retryCount
	rec.NextRetryAt = &at
	rec.LastError = domain.TruncateError(errMsg)
	rec.ProcessingAt = nil
	return nil
}

func markFailed(records []*domain.OutboxRecord, id types.EventID, errMsg string) error {
	rec, err := findProcessing(records, id)
	if err != nil {
		return err
	}
	rec.Status = domain.OutboxStatusFailed
	rec.LastError = domain.TruncateError(errMsg)
	rec.ProcessingAt = nil
	return nil
}

func countPending(records []*domain.OutboxRecord) int64 {
	var n int64
	for _, rec := range records {
		if rec.Status == domain.OutboxStatusPending || rec.Status == domain.OutboxStatusProcessing {
			n++
		}
	}
	return n
}

func deleteOldPublished(records []*domain.OutboxRecord, olderThan time.Time) (kept []*domain.OutboxRecord, removed int64) {
	kept = records[:0]
	for _, rec := range records {
		if rec.Status == domain.OutboxStatusPublished && rec.PublishedAt != nil && rec.PublishedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	return kept, removed
}

// Non-transactional repository implementations (for direct access)

// AccountRepository provides non-transactional access to in-memory accounts.
type AccountRepository struct {
	store *DataStore
}

// LockByID loads an account. Outside a unit of work there is nothing to
// lock; the store mutex gives a consistent snapshot.
func (r *AccountRepository) LockByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return r.FindByID(ctx, id)
}

// FindByID loads an account by ID from memory.
// Returns ErrAccountNotFound when missing.
func (r *AccountRepository) FindByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if account, ok := r.store.accounts[id.String()]; ok {
		return copyAccount(account), nil
	}
	return nil, domain.ErrAccountNotFound
}

// Save stores an account, enforcing the version guard.
func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := account.ID().String()
	current, ok := r.store.accounts[key]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if current.Version() != account.Version()-1 {
		return domain.ErrStaleVersion
	}
	r.store.accounts[key] = copyAccount(account)
	return nil
}

// Insert stores a newly created account in memory.
func (r *AccountRepository) Insert(ctx context.Context, account *domain.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.accounts[account.ID().String()] = copyAccount(account)
	return nil
}

// TransactionRepository provides non-transactional access to in-memory transactions.
type TransactionRepository struct {
	store *DataStore
}

// InsertWithEntries stores the transaction header and its postings.
// Returns ErrDuplicateIdempotencyKey when the key is already committed.
func (r *TransactionRepository) InsertWithEntries(ctx context.Context, t *domain.Transaction, entries []domain.Entry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := t.IdempotencyKey()
	if _, ok := r.store.transactions[key]; ok {
		return domain.ErrDuplicateIdempotencyKey
	}
	r.store.transactions[key] = t
	r.store.entries = append(r.store.entries, entries...)
	return nil
}

// FindByIdempotencyKey loads the transaction committed under the key.
// Returns ErrTransactionNotFound when missing.
func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if t, ok := r.store.transactions[key]; ok {
		return t, nil
	}
	return nil, domain.ErrTransactionNotFound
}

// ExistsByIdempotencyKey reports whether the key is already committed.
func (r *TransactionRepository) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.transactions[key]
	return ok, nil
}

// Entries returns a snapshot of all stored postings. Test helper.
func (r *TransactionRepository) Entries() []domain.Entry {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Entry, len(r.store.entries))
	copy(out, r.store.entries)
	return out
}

// OutboxRepository provides non-transactional access to in-memory outbox records.
type OutboxRepository struct {
	store *DataStore
}

// Append adds an event record to the in-memory outbox.
func (r *OutboxRepository) Append(ctx context.Context, record *domain.OutboxRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.outbox = append(r.store.outbox, record)
	return nil
}

// ClaimPending claims eligible records in insertion order, up to batchSize.
func (r *OutboxRepository) ClaimPending(ctx context.Context, batchSize int, now time.Time, lease time.Duration) ([]*domain.OutboxRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return claimPending(r.store.outbox, batchSize, now, lease), nil
}

// MarkPublished settles PROCESSING -> PUBLISHED.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id types.EventID, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return markPublished(r.store.outbox, id, now)
}

// MarkRetry settles PROCESSING -> PENDING with retry bookkeeping.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id types.EventID, retryCount int, nextRetryAt time.Time, errMsg string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return markRetry(r.store.outbox, id, retryCount, nextRetryAt, errMsg)
}

// MarkFailed settles PROCESSING -> FAILED.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id types.EventID, errMsg string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return markFailed(r.store.outbox, id, errMsg)
}

// CountPending reports records still awaiting publication.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return countPending(r.store.outbox), nil
}

// DeleteOldPublished removes PUBLISHED records older than the threshold.
func (r *OutboxRepository) DeleteOldPublished(ctx context.Context, olderThan time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept, removed := deleteOldPublished(r.store.outbox, olderThan)
	r.store.outbox = kept
	return removed, nil
}

// Records returns a snapshot of all outbox records. Test helper.
func (r *OutboxRepository) Records() []*domain.OutboxRecord {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.OutboxRecord, len(r.store.outbox))
	copy(out, r.store.outbox)
	return out
}

// Verify interface implementations
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
)
