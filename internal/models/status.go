package models

import "strings"

// Канонические статусы, в которые мапятся статусы всех перевозчиков.
const (
	StatusPending            = "pending"
	StatusLabelCreated       = "label_created"
	StatusPreTransit         = "pre_transit"
	StatusInTransit          = "in_transit"
	StatusOutForDelivery     = "out_for_delivery"
	StatusAvailableForPickup = "available_for_pickup"
	StatusDelivered          = "delivered"
	StatusReturned           = "returned"
	StatusException          = "exception"
	StatusExpired            = "expired"
	StatusUnknown            = "unknown"
)

var canonicalStatuses = map[string]struct{}{
	StatusPending:            {},
	StatusLabelCreated:       {},
	StatusPreTransit:         {},
	StatusInTransit:          {},
	StatusOutForDelivery:     {},
	StatusAvailableForPickup: {},
	StatusDelivered:          {},
	StatusReturned:           {},
	StatusException:          {},
	StatusExpired:            {},
	StatusUnknown:            {},
}

var notifiableStatuses = map[string]struct{}{
	StatusInTransit:          {},
	StatusOutForDelivery:     {},
	StatusAvailableForPickup: {},
	StatusDelivered:          {},
	StatusReturned:           {},
	StatusException:          {},
}

func IsCanonical(status string) bool {
	_, ok := canonicalStatuses[status]
	return ok
}

// IsNotifiable reports whether reaching status should tell the customer.
// Literals that slipped through a vendor table unmapped are never notifiable.
func IsNotifiable(status string) bool {
	_, ok := notifiableStatuses[status]
	return ok
}

// FallbackStatus is what an unmapped native status becomes.
func FallbackStatus(native string) string {
	s := strings.ToLower(strings.TrimSpace(native))
	if s == "" {
		return StatusUnknown
	}
	return s
}
