package models

const (
	OrderStatusPending   = "pending"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
)

// Order is owned by the order management side; only Status and TrackingNumber
// are written from here.
type Order struct {
	ID             string
	WorkspaceID    string
	OrderNumber    string
	Status         string
	TrackingNumber *string
	CustomerEmail  *string
}

// ProjectDelivered returns the order status after a canonical shipment status.
// Only a delivered event moves the order, and a delivered order never reopens.
func ProjectDelivered(orderStatus, shipmentStatus string) (string, bool) {
	if shipmentStatus != StatusDelivered || orderStatus == OrderStatusDelivered {
		return orderStatus, false
	}
	return OrderStatusDelivered, true
}

// ProjectShipped marks the order shipped when a shipment gets attached to it.
func ProjectShipped(orderStatus string) (string, bool) {
	switch orderStatus {
	case OrderStatusShipped, OrderStatusDelivered:
		return orderStatus, false
	default:
		return OrderStatusShipped, true
	}
}
