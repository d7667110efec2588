package domain

import (
	"time"

	"tally/internal/common/types"
)

// TransactionStatus is the terminal status of a transaction header.
type TransactionStatus string

// Transaction statuses. REVERSED is represented by a new compensating
// transaction referencing the original, never by mutating a POSTED row.
const (
	TransactionStatusPosted   TransactionStatus = "POSTED"
	TransactionStatusFailed   TransactionStatus = "FAILED"
	TransactionStatusReversed TransactionStatus = "REVERSED"
)

// EntryDirection marks one side of a double-entry posting.
type EntryDirection string

const (
	EntryDirectionDebit  EntryDirection = "DEBIT"
	EntryDirectionCredit EntryDirection = "CREDIT"
)

// Transaction is the immutable header of one committed transfer.
// It is append-only: rows are inserted at commit and never updated.
type Transaction struct {
	id             TransactionID
	idempotencyKey string
	referenceID    string
	status         TransactionStatus
	bookedAt       time.Time
}

// Entry is one side of a double-entry posting. Immutable after insert.
type Entry struct {
	id            EntryID
	transactionID TransactionID
	accountID     AccountID
	amount        types.Money
	direction     EntryDirection
}

// NewPostedTransaction creates a POSTED transaction header.
func NewPostedTransaction(idempotencyKey, referenceID string, bookedAt time.Time) (*Transaction, error) {
	if idempotencyKey == "" {
		return nil, ErrEmptyIdempotencyKey
	}
	return &Transaction{
		id:             NewTransactionID(),
		idempotencyKey: idempotencyKey,
		referenceID:    referenceID,
		status:         TransactionStatusPosted,
		bookedAt:       bookedAt,
	}, nil
}

// ReconstructTransaction reconstructs a Transaction from persistence.
func ReconstructTransaction(
	id TransactionID,
	idempotencyKey string,
	referenceID string,
	status TransactionStatus,
	bookedAt time.Time,
) *Transaction {
	return &Transaction{
		id:             id,
		idempotencyKey: idempotencyKey,
		referenceID:    referenceID,
		status:         status,
		bookedAt:       bookedAt,
	}
}

// TransferEntries builds the DEBIT/CREDIT pair for a transfer of amount
// from source to destination. The pair is balanced by construction.
func (t *Transaction) TransferEntries(source, destination AccountID, amount types.Money) []Entry {
	return []Entry{
		{
			id:            NewEntryID(),
			transactionID: t.id,
			accountID:     source,
			amount:        amount,
			direction:     EntryDirectionDebit,
		},
		{
			id:            NewEntryID(),
			transactionID: t.id,
			accountID:     destination,
			amount:        amount,
			direction:     EntryDirectionCredit,
		},
	}
}

// ReconstructEntry reconstructs an Entry from persistence.
func ReconstructEntry(
	id EntryID,
	transactionID TransactionID,
	accountID AccountID,
	amount types.Money,
	direction EntryDirection,
) Entry {
	return Entry{
		id:            id,
		transactionID: transactionID,
		accountID:     accountID,
		amount:        amount,
		direction:     direction,
	}
}

// ValidateBalanced checks that debit and credit totals match across entries.
func ValidateBalanced(entries []Entry) error {
	if len(entries) == 0 {
		return ErrUnbalancedEntries
	}

	debits := types.Zero(entries[0].amount.Currency)
	credits := types.Zero(entries[0].amount.Currency)

	for _, e := range entries {
		var err error
		switch e.direction {
		case EntryDirectionDebit:
			debits, err = debits.Add(e.amount)
		case EntryDirectionCredit:
			credits, err = credits.Add(e.amount)
		}
		if err != nil {
			return ErrUnbalancedEntries
		}
	}

	if !debits.Equal(credits) {
		return ErrUnbalancedEntries
	}
	return nil
}

// Transaction getters

func (t *Transaction) ID() TransactionID         { return t.id }
func (t *Transaction) IdempotencyKey() string    { return t.idempotencyKey }
func (t *Transaction) ReferenceID() string       { return t.referenceID }
func (t *Transaction) Status() TransactionStatus { return t.status }
func (t *Transaction) BookedAt() time.Time       { return t.bookedAt }

// Entry getters

func (e Entry) ID() EntryID                  { return e.id }
func (e Entry) TransactionID() TransactionID { return e.transactionID }
func (e Entry) AccountID() AccountID         { return e.accountID }
func (e Entry) Amount() types.Money          { return e.amount }
func (e Entry) Direction() EntryDirection    { return e.direction }
