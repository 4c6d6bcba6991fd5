package normalize

import (
	"encoding/json"

	"github.com/BearBump/TrackHub/internal/models"
)

var shippoStatuses = map[string]string{
	"unknown":     models.StatusUnknown,
	"pre_transit": models.StatusPreTransit,
	"transit":     models.StatusInTransit,
	"delivered":   models.StatusDelivered,
	"returned":    models.StatusReturned,
	"failure":     models.StatusException,
}

type shippoPayload struct {
	Event string `json:"event"`
	Data  struct {
		TrackingNumber string   `json:"tracking_number"`
		Carrier        string   `json:"carrier"`
		ETA            flexTime `json:"eta"`
		TrackingStatus *struct {
			Status        string   `json:"status"`
			StatusDetails string   `json:"status_details"`
			StatusDate    flexTime `json:"status_date"`
			Location      *struct {
				City    string `json:"city"`
				State   string `json:"state"`
				Zip     string `json:"zip"`
				Country string `json:"country"`
			} `json:"location"`
		} `json:"tracking_status"`
	} `json:"data"`
}

func normalizeShippo(raw []byte, mapStatus func(string) string) *models.NormalizedTrackingEvent {
	var p shippoPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.Event != "track_updated" || p.Data.TrackingStatus == nil {
		return nil
	}
	ts := p.Data.TrackingStatus

	ev := &models.NormalizedTrackingEvent{
		TrackingNumber:    p.Data.TrackingNumber,
		NativeStatus:      ts.Status,
		CanonicalStatus:   mapStatus(ts.Status),
		StatusDetail:      strPtr(ts.StatusDetails),
		EventTimestamp:    ts.StatusDate.Time,
		EstimatedDelivery: p.Data.ETA.ptr(),
	}
	if ts.Location != nil {
		ev.Location = joinLocation(ts.Location.City, ts.Location.State, ts.Location.Country)
	}
	if ev.CanonicalStatus == models.StatusDelivered {
		ev.DeliveredAt = ts.StatusDate.ptr()
	}
	return ev
}
