package domain

import "errors"

// Domain errors for the Ledger context.
var (
	// ErrAccountNotFound is returned when an account row does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound is returned when a transaction cannot be found.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInsufficientFunds is returned when a debit would drive the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrCurrencyMismatch is returned when currencies don't match.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrSelfTransfer is returned when source and destination are the same account.
	ErrSelfTransfer = errors.New("source and destination accounts must differ")

	// ErrEmptyIdempotencyKey is returned when a required idempotency key is empty.
	ErrEmptyIdempotencyKey = errors.New("idempotency key is required")

	// ErrDuplicateIdempotencyKey is returned when an idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")

	// ErrStaleVersion is returned when an optimistic version check fails.
	// The pessimistic row lock is the primary guard; this is a corruption detector.
	ErrStaleVersion = errors.New("stale account version")

	// ErrUnbalancedEntries is returned when debit and credit totals differ.
	ErrUnbalancedEntries = errors.New("transaction entries do not balance")

	// ErrInvalidStateTransition is returned when an outbox status transition is not allowed.
	ErrInvalidStateTransition = errors.New("invalid outbox state transition")

	// ErrCorruptData is returned when data loaded from persistence is invalid.
	ErrCorruptData = errors.New("corrupt data in database")
)
