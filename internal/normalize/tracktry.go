package normalize

import (
	"encoding/json"

	"github.com/BearBump/TrackHub/internal/models"
)

// Legacy Tracktry push format.
var tracktryStatuses = map[string]string{
	"pending":      models.StatusPending,
	"inforeceived": models.StatusLabelCreated,
	"notfound":     models.StatusUnknown,
	"transit":      models.StatusInTransit,
	"pickup":       models.StatusOutForDelivery,
	"delivered":    models.StatusDelivered,
	"undelivered":  models.StatusException,
	"exception":    models.StatusException,
	"expired":      models.StatusExpired,
}

type tracktryPayload struct {
	Meta *struct {
		Code int `json:"code"`
	} `json:"meta"`
	Data struct {
		TrackingNumber string   `json:"tracking_number"`
		CarrierCode    string   `json:"carrier_code"`
		Status         string   `json:"status"`
		LastEvent      string   `json:"lastEvent"`
		LastUpdateTime flexTime `json:"lastUpdateTime"`
		OriginInfo     struct {
			TrackInfo []struct {
				Date              flexTime `json:"Date"`
				StatusDescription string   `json:"StatusDescription"`
				Details           string   `json:"Details"`
			} `json:"trackinfo"`
		} `json:"origin_info"`
	} `json:"data"`
}

func normalizeTracktry(raw []byte, mapStatus func(string) string) *models.NormalizedTrackingEvent {
	var p tracktryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.Meta != nil && p.Meta.Code != 200 {
		return nil
	}
	d := p.Data
	ev := &models.NormalizedTrackingEvent{
		TrackingNumber:  d.TrackingNumber,
		NativeStatus:    d.Status,
		CanonicalStatus: mapStatus(d.Status),
		StatusDetail:    strPtr(d.LastEvent),
		EventTimestamp:  d.LastUpdateTime.Time,
	}
	// trackinfo: новые события первыми
	if len(d.OriginInfo.TrackInfo) > 0 {
		latest := d.OriginInfo.TrackInfo[0]
		if ev.EventTimestamp.IsZero() {
			ev.EventTimestamp = latest.Date.Time
		}
		ev.Location = strPtr(latest.Details)
		if ev.StatusDetail == nil {
			ev.StatusDetail = strPtr(latest.StatusDescription)
		}
	}
	if ev.CanonicalStatus == models.StatusDelivered && !ev.EventTimestamp.IsZero() {
		at := ev.EventTimestamp.UTC()
		ev.DeliveredAt = &at
	}
	return ev
}
