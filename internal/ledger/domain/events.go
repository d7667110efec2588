package domain

import (
	"encoding/json"
	"time"

	"tally/internal/common/types"
)

// Event types for the Ledger context.
const (
	EventTypeTransactionCreated = "TRANSACTION_CREATED"
)

// AggregateTypeTransaction is the aggregate type recorded on transfer events.
const AggregateTypeTransaction = "TRANSACTION"

// TransactionCreatedEvent is the bus payload for a committed transfer.
// Field names, types, and ordering are a compatibility contract with
// downstream consumers; new fields may only be added, never renamed.
type TransactionCreatedEvent struct {
	TransactionID  string `json:"transactionId"`
	IdempotencyKey string `json:"idempotencyKey"`
	FromAccountID  string `json:"fromAccountId"`
	ToAccountID    string `json:"toAccountId"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	BookedAt       string `json:"bookedAt"`
}

// NewTransactionCreatedOutboxRecord stages a TRANSACTION_CREATED event for the
// given transfer. The aggregate id doubles as the bus partition key, so all
// events for one transaction land on the same partition in order.
func NewTransactionCreatedOutboxRecord(
	tx *Transaction,
	source, destination AccountID,
	amount types.Money,
	topic string,
	now time.Time,
) (*OutboxRecord, error) {
	event := TransactionCreatedEvent{
		TransactionID:  tx.ID().String(),
		IdempotencyKey: tx.IdempotencyKey(),
		FromAccountID:  source.String(),
		ToAccountID:    destination.String(),
		Amount:         amount.StringFixed(),
		Currency:       amount.Currency.String(),
		Status:         string(tx.Status()),
		BookedAt:       tx.BookedAt().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &OutboxRecord{
		ID:            types.NewEventID(),
		AggregateID:   tx.ID().String(),
		AggregateType: AggregateTypeTransaction,
		EventType:     EventTypeTransactionCreated,
		Payload:       payload,
		Topic:         topic,
		Status:        OutboxStatusPending,
		RetryCount:    0,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     now,
	}, nil
}
