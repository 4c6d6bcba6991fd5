package messages

import "time"

const (
	TypeShipmentCreated       = "shipment.created"
	TypeShipmentStatusChanged = "shipment.status_changed"
)

// ShipmentStatusChanged публикуется через outbox после каждого применённого изменения.
type ShipmentStatusChanged struct {
	EventID     string  `json:"event_id"`
	Type        string  `json:"type"`
	ShipmentID  string  `json:"shipment_id"`
	WorkspaceID *string `json:"workspace_id,omitempty"`
	OrderID     *string `json:"order_id,omitempty"`

	TrackingNumber string `json:"tracking_number"`
	CarrierCode    string `json:"carrier_code"`
	TrackingURL    string `json:"tracking_url,omitempty"`

	PreviousStatus string  `json:"previous_status,omitempty"`
	NewStatus      string  `json:"new_status"`
	StatusDetail   *string `json:"status_detail,omitempty"`

	// Notify: a customer notification is due for this transition.
	Notify bool `json:"notify"`
	// Register: the tracking number must be registered with the aggregator.
	Register bool `json:"register"`

	OrderNumber   *string `json:"order_number,omitempty"`
	OrderStatus   *string `json:"order_status,omitempty"`
	CustomerEmail *string `json:"customer_email,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// BroadcastChannel is the per-workspace live-update channel.
func (m ShipmentStatusChanged) BroadcastChannel() string {
	ws := "global"
	if m.WorkspaceID != nil && *m.WorkspaceID != "" {
		ws = *m.WorkspaceID
	}
	return "workspace:" + ws + ":shipments"
}
