package models

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
)

// OutboxEntry: событие, записанное в той же транзакции, что и изменение посылки.
type OutboxEntry struct {
	ID            string
	ShipmentID    string
	EventType     string
	Payload       json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}
