package normalize

import (
	"encoding/json"
	"strings"

	"github.com/BearBump/TrackHub/internal/models"
)

var easyPostStatuses = map[string]string{
	"unknown":              models.StatusUnknown,
	"pre_transit":          models.StatusPreTransit,
	"in_transit":           models.StatusInTransit,
	"out_for_delivery":     models.StatusOutForDelivery,
	"available_for_pickup": models.StatusAvailableForPickup,
	"delivered":            models.StatusDelivered,
	"return_to_sender":     models.StatusReturned,
	"failure":              models.StatusException,
	"error":                models.StatusException,
	"cancelled":            models.StatusException,
}

type easyPostPayload struct {
	Object      string `json:"object"`
	Description string `json:"description"`
	Result      struct {
		Object          string   `json:"object"`
		TrackingCode    string   `json:"tracking_code"`
		Status          string   `json:"status"`
		StatusDetail    string   `json:"status_detail"`
		EstDeliveryDate flexTime `json:"est_delivery_date"`
		UpdatedAt       flexTime `json:"updated_at"`
		TrackingDetails []struct {
			Status           string   `json:"status"`
			Message          string   `json:"message"`
			Datetime         flexTime `json:"datetime"`
			TrackingLocation struct {
				City    string `json:"city"`
				State   string `json:"state"`
				Country string `json:"country"`
			} `json:"tracking_location"`
		} `json:"tracking_details"`
	} `json:"result"`
}

func normalizeEasyPost(raw []byte, mapStatus func(string) string) *models.NormalizedTrackingEvent {
	var p easyPostPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if !strings.HasPrefix(p.Description, "tracker.") || p.Result.Object != "Tracker" {
		return nil
	}
	r := p.Result

	ev := &models.NormalizedTrackingEvent{
		TrackingNumber:    r.TrackingCode,
		NativeStatus:      r.Status,
		CanonicalStatus:   mapStatus(r.Status),
		StatusDetail:      strPtr(r.StatusDetail),
		EventTimestamp:    r.UpdatedAt.Time,
		EstimatedDelivery: r.EstDeliveryDate.ptr(),
	}
	// tracking_details идут по возрастанию времени, последний и есть текущий
	if n := len(r.TrackingDetails); n > 0 {
		last := r.TrackingDetails[n-1]
		if !last.Datetime.IsZero() {
			ev.EventTimestamp = last.Datetime.Time
		}
		ev.Location = joinLocation(last.TrackingLocation.City, last.TrackingLocation.State, last.TrackingLocation.Country)
		if ev.StatusDetail == nil {
			ev.StatusDetail = strPtr(last.Message)
		}
	}
	if ev.CanonicalStatus == models.StatusDelivered && !ev.EventTimestamp.IsZero() {
		at := ev.EventTimestamp.UTC()
		ev.DeliveredAt = &at
	}
	return ev
}
