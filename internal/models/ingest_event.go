package models

import (
	"encoding/json"
	"time"
)

const (
	IngestStatusPending   = "pending"
	IngestStatusProcessed = "processed"
	IngestStatusFailed    = "failed"
)

// RawIngestEvent is the audit record of every inbound webhook.
type RawIngestEvent struct {
	ID           string            `json:"id"`
	Provider     string            `json:"provider"`
	EventType    string            `json:"eventType"`
	ExternalID   *string           `json:"externalId,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Status       string            `json:"status"`
	ErrorMessage *string           `json:"errorMessage,omitempty"`
	ProcessedAt  *time.Time        `json:"processedAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

type WebhookEndpointConfig struct {
	Provider       string
	SecretKey      *string
	IsActive       bool
	LastReceivedAt *time.Time
}

func (c *WebhookEndpointConfig) Secret() string {
	if c == nil || c.SecretKey == nil {
		return ""
	}
	return *c.SecretKey
}
