package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEmptyID is returned when parsing an empty string as an ID.
var ErrEmptyID = errors.New("id cannot be empty")

// ErrInvalidUUID is returned when parsing an invalid UUID format.
var ErrInvalidUUID = errors.New("invalid uuid format")

// CorrelationID tracks a request across service boundaries.
// It is a struct wrapper to prevent accidental type confusion at compile time.
type CorrelationID struct {
	value string
}

// ParseCorrelationID creates a CorrelationID from a string, validating it is non-empty.
func ParseCorrelationID(s string) (CorrelationID, error) {
	if s == "" {
		return CorrelationID{}, fmt.Errorf("correlation_id: %w", ErrEmptyID)
	}
	return CorrelationID{value: s}, nil
}

// NewCorrelationID generates a new unique CorrelationID.
func NewCorrelationID() CorrelationID {
	return CorrelationID{value: uuid.NewString()}
}

// String returns the string representation of CorrelationID.
func (c CorrelationID) String() string {
	return c.value
}

// IsEmpty checks if the CorrelationID is empty.
func (c CorrelationID) IsEmpty() bool {
	return c.value == ""
}

// EventID uniquely identifies an outbox event record.
// It is a struct wrapper to prevent accidental type confusion at compile time.
type EventID struct {
	value string
}

// ParseEventID creates an EventID from a string, validating UUID format.
func ParseEventID(s string) (EventID, error) {
	if s == "" {
		return EventID{}, fmt.Errorf("event_id: %w", ErrEmptyID)
	}
	if _, err := uuid.Parse(s); err != nil {
		return EventID{}, fmt.Errorf("event_id: %w", ErrInvalidUUID)
	}
	return EventID{value: s}, nil
}

// NewEventID generates a new unique EventID.
func NewEventID() EventID {
	return EventID{value: uuid.NewString()}
}

// String returns the string representation of EventID.
func (e EventID) String() string {
	return e.value
}

// IsEmpty checks if the EventID is empty.
func (e EventID) IsEmpty() bool {
	return e.value == ""
}
