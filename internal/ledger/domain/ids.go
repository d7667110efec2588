package domain

import (
	"bytes"

	"github.com/google/uuid"
)

// AccountID uniquely identifies an account.
type AccountID uuid.UUID

// NewAccountID generates a new AccountID.
func NewAccountID() AccountID {
	return AccountID(uuid.New())
}

// ParseAccountID parses a string into an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return AccountID{}, err
	}
	return AccountID(id), nil
}

// String returns the string representation.
func (id AccountID) String() string {
	return uuid.UUID(id).String()
}

// IsZero returns true if the ID is the zero value.
func (id AccountID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// Less reports whether id orders before other under the canonical byte
// ordering. All callers lock the lesser account first, which gives every
// transfer the same global lock order and rules out circular wait.
func (id AccountID) Less(other AccountID) bool {
	a := uuid.UUID(id)
	b := uuid.UUID(other)
	return bytes.Compare(a[:], b[:]) < 0
}

// OrderAccountIDs returns the pair in canonical lock order.
func OrderAccountIDs(a, b AccountID) (first, second AccountID) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}

// TransactionID uniquely identifies a transaction.
type TransactionID uuid.UUID

// NewTransactionID generates a new TransactionID.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.New())
}

// ParseTransactionID parses a string into a TransactionID.
func ParseTransactionID(s string) (TransactionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TransactionID{}, err
	}
	return TransactionID(id), nil
}

// String returns the string representation.
func (id TransactionID) String() string {
	return uuid.UUID(id).String()
}

// IsZero returns true if the ID is the zero value.
func (id TransactionID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// EntryID uniquely identifies a transaction entry (posting).
type EntryID uuid.UUID

// NewEntryID generates a new EntryID.
func NewEntryID() EntryID {
	return EntryID(uuid.New())
}

// String returns the string representation.
func (id EntryID) String() string {
	return uuid.UUID(id).String()
}
