package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/storage/pgshipping"
)

// fakeStore повторяет транзакционную семантику pgshipping в памяти.
type fakeStore struct {
	mu sync.Mutex

	endpoints map[string]*models.WebhookEndpointConfig
	touched   map[string]time.Time
	raw       []*models.RawIngestEvent
	keys      map[string]struct{}
	shipments map[string]*models.ShipmentTracking
	orders    map[string]*models.Order
	outbox    []messages.ShipmentStatusChanged

	applyErr error
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		endpoints: map[string]*models.WebhookEndpointConfig{},
		touched:   map[string]time.Time{},
		keys:      map[string]struct{}{},
		shipments: map[string]*models.ShipmentTracking{},
		orders:    map[string]*models.Order{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) GetWebhookEndpoint(ctx context.Context, provider string) (*models.WebhookEndpointConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoints[provider], nil
}

func (f *fakeStore) TouchWebhookEndpoint(ctx context.Context, provider string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[provider] = at
	return nil
}

func (f *fakeStore) CreateRawEvent(ctx context.Context, ev *models.RawIngestEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = f.nextID("raw")
	cp := *ev
	f.raw = append(f.raw, &cp)
	return nil
}

func (f *fakeStore) FinishRawEvent(ctx context.Context, id, status string, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.raw {
		if r.ID == id && r.Status == models.IngestStatusPending {
			r.Status = status
			r.ErrorMessage = errMsg
		}
	}
	return nil
}

func (f *fakeStore) ApplyTrackingEvent(ctx context.Context, in pgshipping.ApplyInput) (pgshipping.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return pgshipping.ApplyResult{}, f.applyErr
	}

	key := in.Provider + "|" + in.EventKey
	if _, ok := f.keys[key]; ok {
		return pgshipping.ApplyResult{Outcome: pgshipping.OutcomeDuplicate}, nil
	}
	sh := f.shipments[in.Event.TrackingNumber]
	if sh == nil {
		return pgshipping.ApplyResult{Outcome: pgshipping.OutcomeUnmatched}, nil
	}
	f.keys[key] = struct{}{}

	change := sh.Apply(in.Event, in.ReceivedAt)
	res := pgshipping.ApplyResult{Outcome: pgshipping.OutcomeApplied, Change: change, Shipment: sh}
	msg := messages.ShipmentStatusChanged{
		EventID:        f.nextID("evt"),
		Type:           messages.TypeShipmentStatusChanged,
		ShipmentID:     sh.ID,
		OrderID:        sh.OrderID,
		TrackingNumber: sh.TrackingNumber,
		PreviousStatus: change.PreviousStatus,
		NewStatus:      change.NewStatus,
		Notify:         change.Notify,
		OccurredAt:     in.ReceivedAt,
	}
	if sh.OrderID != nil {
		if o := f.orders[*sh.OrderID]; o != nil {
			if next, changed := models.ProjectDelivered(o.Status, change.NewStatus); changed {
				o.Status = next
				res.OrderDelivered = true
			}
			res.OrderStatus = &o.Status
			msg.OrderStatus = &o.Status
		}
	}
	f.outbox = append(f.outbox, msg)
	return res, nil
}

func (f *fakeStore) ShipmentExists(ctx context.Context, trackingNumber string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.shipments[trackingNumber]
	return ok, nil
}

func (f *fakeStore) FindOrderByNumber(ctx context.Context, ref string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := strings.ToUpper(strings.TrimLeft(ref, "#"))
	for _, o := range f.orders {
		if strings.ToUpper(strings.TrimLeft(o.OrderNumber, "#")) == want {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindOrdersByNumberLike(ctx context.Context, ref string, limit int) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := strings.ToUpper(strings.TrimLeft(ref, "#"))
	var out []*models.Order
	for _, o := range f.orders {
		num := strings.ToUpper(strings.TrimLeft(o.OrderNumber, "#"))
		if strings.Contains(num, want) || strings.Contains(want, num) {
			out = append(out, o)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) CreateEmailShipment(ctx context.Context, in pgshipping.EmailShipmentInput) (pgshipping.EmailShipmentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[in.OrderID]
	if o == nil {
		return pgshipping.EmailShipmentResult{}, pgshipping.ErrOrderNotFound
	}
	if _, ok := f.shipments[in.TrackingNumber]; ok {
		return pgshipping.EmailShipmentResult{Created: false}, nil
	}
	sh := &models.ShipmentTracking{
		ID:             f.nextID("shp"),
		OrderID:        &o.ID,
		TrackingNumber: in.TrackingNumber,
		CarrierCode:    in.Carrier.Code,
		Status:         models.StatusLabelCreated,
		StatusHistory:  []models.StatusHistoryEntry{{Status: models.StatusLabelCreated, Timestamp: in.ReceivedAt}},
		Source:         models.SourceEmail,
		SourceDetails:  in.SourceDetails,
		CreatedAt:      in.ReceivedAt,
		LastUpdatedAt:  in.ReceivedAt,
	}
	f.shipments[in.TrackingNumber] = sh
	next, shipped := models.ProjectShipped(o.Status)
	o.Status = next
	f.outbox = append(f.outbox, messages.ShipmentStatusChanged{
		EventID:        f.nextID("evt"),
		Type:           messages.TypeShipmentCreated,
		ShipmentID:     sh.ID,
		TrackingNumber: sh.TrackingNumber,
		NewStatus:      sh.Status,
		Notify:         shipped,
		Register:       true,
	})
	return pgshipping.EmailShipmentResult{Created: true, Shipment: sh, OrderStatus: o.Status, OrderShipped: shipped}, nil
}

func (f *fakeStore) addShipment(tn, orderID string) *models.ShipmentTracking {
	sh := &models.ShipmentTracking{ID: f.nextID("shp"), TrackingNumber: tn, Status: models.StatusInTransit, Source: models.SourceWebhook}
	if orderID != "" {
		sh.OrderID = &orderID
	}
	f.shipments[tn] = sh
	return sh
}

func (f *fakeStore) addOrder(id, number, status string) *models.Order {
	o := &models.Order{ID: id, WorkspaceID: "ws1", OrderNumber: number, Status: status}
	f.orders[id] = o
	return o
}

func (f *fakeStore) notifyCount() int {
	n := 0
	for _, m := range f.outbox {
		if m.Notify {
			n++
		}
	}
	return n
}

type fakeInvalidator struct {
	keys []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, trackingNumber string) error {
	f.keys = append(f.keys, trackingNumber)
	return nil
}
