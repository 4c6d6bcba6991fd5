package normalize

import (
	"encoding/json"

	"github.com/BearBump/TrackHub/internal/models"
)

var seventeenTrackStatuses = map[string]string{
	"notfound":           models.StatusUnknown,
	"inforeceived":       models.StatusLabelCreated,
	"intransit":          models.StatusInTransit,
	"expired":            models.StatusExpired,
	"availableforpickup": models.StatusAvailableForPickup,
	"outfordelivery":     models.StatusOutForDelivery,
	"deliveryfailure":    models.StatusException,
	"delivered":          models.StatusDelivered,
	"exception":          models.StatusException,
}

type seventeenTrackPayload struct {
	Event string `json:"event"`
	Data  struct {
		Number    string `json:"number"`
		TrackInfo *struct {
			LatestStatus struct {
				Status    string `json:"status"`
				SubStatus string `json:"sub_status"`
			} `json:"latest_status"`
			LatestEvent *struct {
				TimeISO     flexTime `json:"time_iso"`
				TimeUTC     flexTime `json:"time_utc"`
				Description string   `json:"description"`
				Location    string   `json:"location"`
			} `json:"latest_event"`
			TimeMetrics struct {
				EstimatedDeliveryDate struct {
					From flexTime `json:"from"`
					To   flexTime `json:"to"`
				} `json:"estimated_delivery_date"`
			} `json:"time_metrics"`
		} `json:"track_info"`
	} `json:"data"`
}

func normalize17Track(raw []byte, mapStatus func(string) string) *models.NormalizedTrackingEvent {
	var p seventeenTrackPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.Event != "TRACKING_UPDATED" || p.Data.TrackInfo == nil {
		return nil
	}
	ti := p.Data.TrackInfo

	ev := &models.NormalizedTrackingEvent{
		TrackingNumber:  p.Data.Number,
		NativeStatus:    ti.LatestStatus.Status,
		CanonicalStatus: mapStatus(ti.LatestStatus.Status),
		StatusDetail:    strPtr(ti.LatestStatus.SubStatus),
	}
	if le := ti.LatestEvent; le != nil {
		ev.EventTimestamp = le.TimeUTC.Time
		if ev.EventTimestamp.IsZero() {
			ev.EventTimestamp = le.TimeISO.Time
		}
		ev.Location = strPtr(le.Location)
		if d := strPtr(le.Description); d != nil {
			ev.StatusDetail = d
		}
	}
	eta := ti.TimeMetrics.EstimatedDeliveryDate
	ev.EstimatedDelivery = eta.To.ptr()
	if ev.EstimatedDelivery == nil {
		ev.EstimatedDelivery = eta.From.ptr()
	}
	if ev.CanonicalStatus == models.StatusDelivered && !ev.EventTimestamp.IsZero() {
		at := ev.EventTimestamp.UTC()
		ev.DeliveredAt = &at
	}
	return ev
}
