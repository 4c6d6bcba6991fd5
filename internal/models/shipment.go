package models

import (
	"fmt"
	"slices"
	"time"
)

const (
	SourceWebhook = "webhook"
	SourceEmail   = "email"
)

// NormalizedTrackingEvent: результат нормализации вебхука любого перевозчика.
// Отдельной строкой в БД не хранится.
type NormalizedTrackingEvent struct {
	TrackingNumber    string
	CanonicalStatus   string
	NativeStatus      string
	StatusDetail      *string
	Location          *string
	EventTimestamp    time.Time
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time

	// HasTimestamp is false when the payload carried no usable event time;
	// EventTimestamp then holds the receipt time and PayloadDigest stands in for it
	// in the idempotency key.
	HasTimestamp  bool
	PayloadDigest string

	RawPayloadRef string
}

// IdempotencyKey is {provider}-{trackingNumber}-{eventTimestamp}.
func (e NormalizedTrackingEvent) IdempotencyKey(provider string) string {
	ts := e.PayloadDigest
	if e.HasTimestamp {
		ts = e.EventTimestamp.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s-%s-%s", provider, e.TrackingNumber, ts)
}

type StatusHistoryEntry struct {
	Status       string     `json:"status"`
	StatusDetail *string    `json:"statusDetail,omitempty"`
	Location     *string    `json:"location,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	RecordedAt   *time.Time `json:"recordedAt,omitempty"`
}

type ShipmentTracking struct {
	ID                string               `json:"id"`
	WorkspaceID       *string              `json:"workspaceId,omitempty"`
	OrderID           *string              `json:"orderId,omitempty"`
	TrackingNumber    string               `json:"trackingNumber"`
	CarrierID         string               `json:"carrierId"`
	CarrierCode       string               `json:"carrierCode,omitempty"`
	Status            string               `json:"status"`
	StatusHistory     []StatusHistoryEntry `json:"statusHistory"`
	EstimatedDelivery *time.Time           `json:"estimatedDelivery,omitempty"`
	DeliveredAt       *time.Time           `json:"deliveredAt,omitempty"`
	LastUpdatedAt     time.Time            `json:"lastUpdatedAt"`
	Source            string               `json:"source"`
	SourceDetails     map[string]any       `json:"sourceDetails,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`

	// NotifiedStatuses lists the notifiable statuses a customer was already told about.
	NotifiedStatuses []string `json:"-"`
}

type ShippingCarrier struct {
	ID                  string
	Name                string
	Code                string
	TrackingURLTemplate string
}

// StatusChange describes what Apply did to the aggregate.
type StatusChange struct {
	ShipmentID     string
	PreviousStatus string
	NewStatus      string
	Entry          StatusHistoryEntry
	Notify         bool
}

// Apply appends the event to the history and makes it the current status.
// Order of application is receipt order; the carrier timestamp is only recorded.
func (s *ShipmentTracking) Apply(ev NormalizedTrackingEvent, receivedAt time.Time) StatusChange {
	prev := s.Status
	entry := StatusHistoryEntry{
		Status:       ev.CanonicalStatus,
		StatusDetail: ev.StatusDetail,
		Location:     ev.Location,
		Timestamp:    ev.EventTimestamp.UTC(),
	}
	s.StatusHistory = append(s.StatusHistory, entry)
	s.Status = ev.CanonicalStatus
	if ev.EstimatedDelivery != nil {
		s.EstimatedDelivery = ev.EstimatedDelivery
	}
	if ev.CanonicalStatus == StatusDelivered {
		at := ev.EventTimestamp.UTC()
		if ev.DeliveredAt != nil {
			at = ev.DeliveredAt.UTC()
		}
		s.DeliveredAt = &at
	}
	s.LastUpdatedAt = receivedAt.UTC()

	notify := ShouldNotify(s.NotifiedStatuses, ev.CanonicalStatus)
	if notify {
		s.NotifiedStatuses = append(s.NotifiedStatuses, ev.CanonicalStatus)
	}

	return StatusChange{
		ShipmentID:     s.ID,
		PreviousStatus: prev,
		NewStatus:      ev.CanonicalStatus,
		Entry:          entry,
		Notify:         notify,
	}
}

// ShouldNotify is true when next is notifiable and was never notified for the shipment.
// Промежуточные и неизвестные статусы между повторами ничего не меняют.
func ShouldNotify(notified []string, next string) bool {
	return IsNotifiable(next) && !slices.Contains(notified, next)
}
