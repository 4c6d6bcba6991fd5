package normalize

import (
	"encoding/json"
	"strings"

	"github.com/BearBump/TrackHub/internal/models"
)

// Envelope describes a webhook delivery independent of the tracking data in it.
type Envelope struct {
	EventType  string
	ExternalID *string
}

type envelopeFields struct {
	Event        string          `json:"event"`
	Type         string          `json:"type"`
	ResourceType string          `json:"resource_type"`
	Description  string          `json:"description"`
	ID           json.RawMessage `json:"id"`
	EventID      json.RawMessage `json:"event_id"`
	Data         struct {
		ObjectID string `json:"object_id"`
	} `json:"data"`
}

// Envelope reads the vendor's event type and delivery id. Unknown or
// unreadable payloads fall back to the plain "webhook" type.
func (r *Registry) Envelope(carrierCode string, raw []byte) Envelope {
	var f envelopeFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return Envelope{EventType: models.SourceWebhook}
	}

	var eventType string
	var externalID *string
	switch strings.ToLower(carrierCode) {
	case "shipstation":
		eventType = f.ResourceType
	case "shippo":
		eventType = f.Event
		externalID = strPtr(f.Data.ObjectID)
	case "easypost":
		eventType = f.Description
		externalID = rawID(f.ID)
	case "17track":
		eventType = f.Event
	default:
		eventType = firstNonEmpty(f.Event, f.Type)
		if externalID = rawID(f.ID); externalID == nil {
			externalID = rawID(f.EventID)
		}
	}

	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = models.SourceWebhook
	}
	return Envelope{EventType: eventType, ExternalID: externalID}
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strPtr(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return strPtr(n.String())
	}
	return nil
}
