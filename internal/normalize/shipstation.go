package normalize

import (
	"encoding/json"

	"github.com/BearBump/TrackHub/internal/models"
)

var shipStationStatuses = map[string]string{
	"un": models.StatusUnknown,
	"ny": models.StatusPreTransit,
	"ac": models.StatusInTransit,
	"it": models.StatusInTransit,
	"at": models.StatusException,
	"ex": models.StatusException,
	"sp": models.StatusAvailableForPickup,
	"de": models.StatusDelivered,
}

type shipStationPayload struct {
	ResourceURL  string `json:"resource_url"`
	ResourceType string `json:"resource_type"`
	Data         struct {
		TrackingNumber           string   `json:"tracking_number"`
		StatusCode               string   `json:"status_code"`
		StatusDescription        string   `json:"status_description"`
		CarrierStatusDescription string   `json:"carrier_status_description"`
		EstimatedDeliveryDate    flexTime `json:"estimated_delivery_date"`
		ActualDeliveryDate       flexTime `json:"actual_delivery_date"`
		Events                   []struct {
			OccurredAt    flexTime `json:"occurred_at"`
			Description   string   `json:"description"`
			CityLocality  string   `json:"city_locality"`
			StateProvince string   `json:"state_province"`
			CountryCode   string   `json:"country_code"`
		} `json:"events"`
	} `json:"data"`
}

func normalizeShipStation(raw []byte, mapStatus func(string) string) *models.NormalizedTrackingEvent {
	var p shipStationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.ResourceType != "SHIP_NOTIFY" {
		return nil
	}
	d := p.Data

	ev := &models.NormalizedTrackingEvent{
		TrackingNumber:    d.TrackingNumber,
		NativeStatus:      d.StatusCode,
		CanonicalStatus:   mapStatus(d.StatusCode),
		StatusDetail:      strPtr(firstNonEmpty(d.CarrierStatusDescription, d.StatusDescription)),
		EstimatedDelivery: d.EstimatedDeliveryDate.ptr(),
		DeliveredAt:       d.ActualDeliveryDate.ptr(),
	}

	// Берём самое свежее событие из списка.
	for _, e := range d.Events {
		if e.OccurredAt.IsZero() || e.OccurredAt.Before(ev.EventTimestamp) {
			continue
		}
		ev.EventTimestamp = e.OccurredAt.Time
		ev.Location = joinLocation(e.CityLocality, e.StateProvince, e.CountryCode)
	}
	return ev
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
