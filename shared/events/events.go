package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	AccountCreated = "account.created"
	AccountUpdated = "account.updated"
	AccountDeleted = "account.deleted"
)

// Stream names
const (
	AccountEventsStream = "account.events"
)

// Base event structure
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Account events
type AccountCreatedEvent struct {
	AccountID int64  `json:"accountId"`
	UserID    string `json:"userId"`
}

type AccountUpdatedEvent struct {
	AccountID int64  `json:"accountId"`
	UserID    string `json:"userId"`
}

type AccountDeletedEvent struct {
	AccountID int64  `json:"accountId"`
	UserID    string `json:"userId"`
}
