package fake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BearBump/TrackHub/internal/integrations/aggregator"
)

// FakeClient: заглушка агрегатора, когда aggregator_base_url не задан:
// только пишет в лог и запоминает номера.
type FakeClient struct {
	mu   sync.Mutex
	regs []aggregator.Registration
}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Register(ctx context.Context, reg aggregator.Registration) error {
	f.mu.Lock()
	f.regs = append(f.regs, reg)
	f.mu.Unlock()
	slog.Info("aggregator registration skipped (fake)", "tracking_number", reg.TrackingNumber, "carrier", reg.CarrierCode)
	return nil
}

func (f *FakeClient) Registered() []aggregator.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]aggregator.Registration(nil), f.regs...)
}
