package normalize

import (
	"encoding/json"

	"github.com/BearBump/TrackHub/internal/models"
)

var genericStatuses = func() map[string]string {
	m := map[string]string{
		"created":          models.StatusLabelCreated,
		"shipped":          models.StatusInTransit,
		"transit":          models.StatusInTransit,
		"failure":          models.StatusException,
		"failed":           models.StatusException,
		"return_to_sender": models.StatusReturned,
		"ready_for_pickup": models.StatusAvailableForPickup,
	}
	for _, s := range []string{
		models.StatusPending, models.StatusLabelCreated, models.StatusPreTransit,
		models.StatusInTransit, models.StatusOutForDelivery, models.StatusAvailableForPickup,
		models.StatusDelivered, models.StatusReturned, models.StatusException,
		models.StatusExpired, models.StatusUnknown,
	} {
		m[s] = s
	}
	return m
}()

type genericPayload struct {
	TrackingNumber    string   `json:"tracking_number"`
	Status            string   `json:"status"`
	StatusDetail      string   `json:"status_detail"`
	Location          string   `json:"location"`
	Timestamp         flexTime `json:"timestamp"`
	EstimatedDelivery flexTime `json:"estimated_delivery"`
	DeliveredAt       flexTime `json:"delivered_at"`
}

func normalizeGeneric(raw []byte, mapStatus func(string) string) *models.NormalizedTrackingEvent {
	var p genericPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.TrackingNumber == "" || p.Status == "" {
		return nil
	}
	return &models.NormalizedTrackingEvent{
		TrackingNumber:    p.TrackingNumber,
		NativeStatus:      p.Status,
		CanonicalStatus:   mapStatus(p.Status),
		StatusDetail:      strPtr(p.StatusDetail),
		Location:          strPtr(p.Location),
		EventTimestamp:    p.Timestamp.Time,
		EstimatedDelivery: p.EstimatedDelivery.ptr(),
		DeliveredAt:       p.DeliveredAt.ptr(),
	}
}
