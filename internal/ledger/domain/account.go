package domain

import (
	"time"

	"tally/internal/common/types"
)

// Account represents a funds-holding account (aggregate root).
// Invariants:
//   - Balance never goes negative
//   - Currency is immutable after creation
//   - Version strictly increases on every mutation
type Account struct {
	id        AccountID
	userID    string
	balance   types.Money
	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// NewAccount creates a new account with the given opening balance.
// The now parameter makes the function pure and testable.
func NewAccount(userID string, balance types.Money, now time.Time) (*Account, error) {
	if balance.IsNegative() {
		return nil, ErrInsufficientFunds
	}
	return &Account{
		id:        NewAccountID(),
		userID:    userID,
		balance:   balance,
		version:   0,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructAccount reconstructs an Account from persistence.
// This bypasses validation - only use for loading from database.
func ReconstructAccount(
	id AccountID,
	userID string,
	balance types.Money,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Account {
	return &Account{
		id:        id,
		userID:    userID,
		balance:   balance,
		version:   version,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// Debit withdraws the amount from the account.
// The now parameter makes the function pure and testable.
// Returns ErrInsufficientFunds if the balance would go negative.
func (a *Account) Debit(amount types.Money, now time.Time) error {
	if amount.Currency != a.balance.Currency {
		return ErrCurrencyMismatch
	}

	if a.balance.LessThan(amount) {
		return ErrInsufficientFunds
	}

	newBalance, err := a.balance.Subtract(amount)
	if err != nil {
		return err
	}

	a.balance = newBalance
	a.version++
	a.updatedAt = now
	return nil
}

// Credit deposits the amount into the account.
// The now parameter makes the function pure and testable.
func (a *Account) Credit(amount types.Money, now time.Time) error {
	if amount.Currency != a.balance.Currency {
		return ErrCurrencyMismatch
	}

	newBalance, err := a.balance.Add(amount)
	if err != nil {
		return err
	}

	a.balance = newBalance
	a.version++
	a.updatedAt = now
	return nil
}

// Currency returns the account currency.
func (a *Account) Currency() types.Currency {
	return a.balance.Currency
}

// Getters

func (a *Account) ID() AccountID        { return a.id }
func (a *Account) UserID() string       { return a.userID }
func (a *Account) Balance() types.Money { return a.balance }
func (a *Account) Version() int64       { return a.version }
func (a *Account) CreatedAt() time.Time { return a.createdAt }
func (a *Account) UpdatedAt() time.Time { return a.updatedAt }
