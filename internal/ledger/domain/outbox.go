package domain

import (
	"time"

	"tally/internal/common/types"
)

// OutboxStatus is the publication state of an outbox record.
type OutboxStatus string

// Outbox statuses. PUBLISHED and FAILED are terminal.
const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusPublished  OutboxStatus = "PUBLISHED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// DefaultMaxRetries is the retry cap before a record is marked FAILED.
const DefaultMaxRetries = 5

// MaxLastErrorLength bounds the stored last_error column.
const MaxLastErrorLength = 2000

// OutboxRecord is a staged event awaiting publication. It is inserted in the
// same atomic unit as its parent transaction and published asynchronously.
type OutboxRecord struct {
	ID            types.EventID
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	Topic         string
	Status        OutboxStatus
	RetryCount    int
	MaxRetries    int
	NextRetryAt   *time.Time
	ProcessingAt  *time.Time
	PublishedAt   *time.Time
	LastError     string
	CreatedAt     time.Time
}

// TruncateError bounds an error message to MaxLastErrorLength bytes
// before it is stored on the record.
func TruncateError(msg string) string {
	if len(msg) > MaxLastErrorLength {
		return msg[:MaxLastErrorLength]
	}
	return msg
}

// Exhausted reports whether another failed attempt would exceed the retry cap.
func (r *OutboxRecord) Exhausted(newRetryCount int) bool {
	return newRetryCount >= r.MaxRetries
}
