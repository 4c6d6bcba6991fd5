package aggregator

import "context"

// Registration asks the tracking aggregator to start following a number
// so that its webhooks arrive for it later.
type Registration struct {
	TrackingNumber string
	CarrierCode    string
}

type Client interface {
	Register(ctx context.Context, reg Registration) error
}
