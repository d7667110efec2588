package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"tally/internal/common/metrics"
	"tally/internal/common/types"
	"tally/internal/ledger/domain"
)

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db Executor
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db Executor) *AccountRepository {
	return &AccountRepository{db: db}
}

// LockByID loads the account under SELECT ... FOR UPDATE.
// Blocks until any concurrent holder of the row lock commits or rolls back,
// then returns the post-lock snapshot. Must run inside an Atomic callback.
func (r *AccountRepository) LockByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return r.findOne(ctx, `
		SELECT id, user_id, balance, currency, version, created_at, updated_at
		FROM ledger.accounts
		WHERE id = $1
		FOR UPDATE`,
		id.String(),
	)
}

// FindByID retrieves an account by ID without locking.
func (r *AccountRepository) FindByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return r.findOne(ctx, `
		SELECT id, user_id, balance, currency, version, created_at, updated_at
		FROM ledger.accounts
		WHERE id = $1`,
		id.String(),
	)
}

// Save persists the account's balance and version.
// The row lock taken by LockByID is the primary guard; the version predicate
// is a second line of defense against writes outside the locking protocol.
func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ledger.accounts
		SET balance = $1,
			version = $2,
			updated_at = $3
		WHERE id = $4 AND version = $5`,
		account.Balance().Amount,
		account.Version(),
		account.UpdatedAt(),
		account.ID().String(),
		account.Version()-1,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		metrics.RecordStaleVersionConflict("accounts")
		return domain.ErrStaleVersion
	}
	return nil
}

// Insert persists a newly created account.
func (r *AccountRepository) Insert(ctx context.Context, account *domain.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ledger.accounts (
			id, user_id, balance, currency, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		account.ID().String(),
		account.UserID(),
		account.Balance().Amount,
		account.Balance().Currency.String(),
		account.Version(),
		account.CreatedAt(),
		account.UpdatedAt(),
	)
	return err
}

func (r *AccountRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Account, error) {
	var (
		accountID string
		userID    string
		balance   decimal.Decimal
		currency  string
		version   int64
		createdAt time.Time
		updatedAt time.Time
	)

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&accountID, &userID, &balance, &currency,
		&version, &createdAt, &updatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	parsedID, err := domain.ParseAccountID(accountID)
	if err != nil {
		return nil, domain.ErrCorruptData
	}

	return domain.ReconstructAccount(
		parsedID,
		userID,
		types.NewMoney(balance, types.Currency(currency)),
		version,
		createdAt,
		updatedAt,
	), nil
}

// Verify interface implementation.
var _ domain.AccountRepository = (*AccountRepository)(nil)
