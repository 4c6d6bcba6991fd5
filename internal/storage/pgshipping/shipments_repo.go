package pgshipping

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeUnmatched = "unmatched"
)

var ErrOrderNotFound = errors.New("order not found")

type ApplyInput struct {
	Provider   string
	EventKey   string
	Event      models.NormalizedTrackingEvent
	ReceivedAt time.Time
}

type ApplyResult struct {
	Outcome  string
	Change   models.StatusChange
	Shipment *models.ShipmentTracking

	OrderStatus    *string
	OrderDelivered bool
}

type EmailShipmentInput struct {
	TrackingNumber string
	Carrier        models.ShippingCarrier
	OrderID        string
	SourceDetails  map[string]any
	ReceivedAt     time.Time
}

type EmailShipmentResult struct {
	Created      bool
	Shipment     *models.ShipmentTracking
	OrderStatus  string
	OrderShipped bool
}

const shipmentColumns = `
  s.id, s.workspace_id, s.order_id, s.tracking_number, s.carrier_id, c.code, c.tracking_url_template,
  s.status, s.estimated_delivery, s.delivered_at, s.last_updated_at,
  s.source, s.source_details, s.notified_statuses, s.created_at`

func scanShipment(row pgx.Row) (*models.ShipmentTracking, string, error) {
	var sh models.ShipmentTracking
	var urlTemplate string
	if err := row.Scan(
		&sh.ID, &sh.WorkspaceID, &sh.OrderID, &sh.TrackingNumber, &sh.CarrierID, &sh.CarrierCode, &urlTemplate,
		&sh.Status, &sh.EstimatedDelivery, &sh.DeliveredAt, &sh.LastUpdatedAt,
		&sh.Source, &sh.SourceDetails, &sh.NotifiedStatuses, &sh.CreatedAt,
	); err != nil {
		return nil, "", err
	}
	return &sh, urlTemplate, nil
}

// trackingURL подставляет номер в шаблон перевозчика (один %s).
func trackingURL(template, trackingNumber string) string {
	if template == "" {
		return ""
	}
	return strings.Replace(template, "%s", url.QueryEscape(trackingNumber), 1)
}

// ApplyTrackingEvent применяет нормализованное событие одной транзакцией:
// idempotency insert-if-absent → shipment FOR UPDATE → history → order → outbox.
// Для неизвестного трека транзакция откатывается, запись идемпотентности не остаётся.
func (s *Storage) ApplyTrackingEvent(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ApplyResult{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	receivedAt := in.ReceivedAt.UTC()

	tag, err := tx.Exec(ctx, `
INSERT INTO idempotency_records (provider, event_key, created_at)
VALUES ($1,$2,$3)
ON CONFLICT (provider, event_key) DO NOTHING
`, in.Provider, in.EventKey, receivedAt)
	if err != nil {
		return ApplyResult{}, errors.Wrap(err, "insert idempotency record")
	}
	if tag.RowsAffected() == 0 {
		return ApplyResult{Outcome: OutcomeDuplicate}, nil
	}

	sh, urlTemplate, err := scanShipment(tx.QueryRow(ctx, `
SELECT`+shipmentColumns+`
FROM shipments s
JOIN shipping_carriers c ON c.id = s.carrier_id
WHERE s.tracking_number = $1
FOR UPDATE OF s
`, in.Event.TrackingNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return ApplyResult{Outcome: OutcomeUnmatched}, nil
	}
	if err != nil {
		return ApplyResult{}, errors.Wrap(err, "select shipment")
	}

	change := sh.Apply(in.Event, receivedAt)
	change.Entry.RecordedAt = &receivedAt

	if _, err := tx.Exec(ctx, `
INSERT INTO shipment_status_history (shipment_id, status, status_detail, location, event_time, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, sh.ID, change.Entry.Status, change.Entry.StatusDetail, change.Entry.Location, change.Entry.Timestamp, receivedAt); err != nil {
		return ApplyResult{}, errors.Wrap(err, "insert status history")
	}

	if _, err := tx.Exec(ctx, `
UPDATE shipments
SET status = $2, estimated_delivery = $3, delivered_at = $4, last_updated_at = $5, notified_statuses = COALESCE($6::text[], '{}')
WHERE id = $1
`, sh.ID, sh.Status, sh.EstimatedDelivery, sh.DeliveredAt, sh.LastUpdatedAt, sh.NotifiedStatuses); err != nil {
		return ApplyResult{}, errors.Wrap(err, "update shipment")
	}

	res := ApplyResult{Outcome: OutcomeApplied, Change: change, Shipment: sh}

	var order *models.Order
	if sh.OrderID != nil {
		order, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, *sh.OrderID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return ApplyResult{}, errors.Wrap(err, "select order")
		}
	}
	if order != nil {
		next, changed := models.ProjectDelivered(order.Status, change.NewStatus)
		if changed {
			// status <> delivered: заказ никогда не "переоткрывается".
			tag, err := tx.Exec(ctx, `
UPDATE orders SET status = $2, updated_at = now()
WHERE id = $1 AND status <> $3
`, order.ID, next, models.OrderStatusDelivered)
			if err != nil {
				return ApplyResult{}, errors.Wrap(err, "project order status")
			}
			if tag.RowsAffected() > 0 {
				order.Status = next
				res.OrderDelivered = true
			}
		}
		res.OrderStatus = &order.Status
	}

	msg := messages.ShipmentStatusChanged{
		EventID:        uuid.NewString(),
		Type:           messages.TypeShipmentStatusChanged,
		ShipmentID:     sh.ID,
		WorkspaceID:    sh.WorkspaceID,
		OrderID:        sh.OrderID,
		TrackingNumber: sh.TrackingNumber,
		CarrierCode:    sh.CarrierCode,
		TrackingURL:    trackingURL(urlTemplate, sh.TrackingNumber),
		PreviousStatus: change.PreviousStatus,
		NewStatus:      change.NewStatus,
		StatusDetail:   change.Entry.StatusDetail,
		Notify:         change.Notify,
		OccurredAt:     receivedAt,
	}
	if order != nil {
		msg.OrderNumber = &order.OrderNumber
		msg.OrderStatus = &order.Status
		msg.CustomerEmail = order.CustomerEmail
	}
	if err := insertOutbox(ctx, tx, msg); err != nil {
		return ApplyResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

// CreateEmailShipment создаёт посылку из письма для уже найденного заказа.
// Created=false, если посылка с таким номером уже есть.
func (s *Storage) CreateEmailShipment(ctx context.Context, in EmailShipmentInput) (EmailShipmentResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return EmailShipmentResult{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := in.ReceivedAt.UTC()

	var carrierID string
	err = tx.QueryRow(ctx, `
INSERT INTO shipping_carriers (id, name, code, tracking_url_template)
VALUES ($1,$2,$3,$4)
ON CONFLICT (code) DO UPDATE SET code = shipping_carriers.code
RETURNING id
`, uuid.NewString(), in.Carrier.Name, in.Carrier.Code, in.Carrier.TrackingURLTemplate).Scan(&carrierID)
	if err != nil {
		return EmailShipmentResult{}, errors.Wrap(err, "get or create carrier")
	}

	order, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, in.OrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return EmailShipmentResult{}, ErrOrderNotFound
	}
	if err != nil {
		return EmailShipmentResult{}, errors.Wrap(err, "select order")
	}

	details := in.SourceDetails
	if details == nil {
		details = map[string]any{}
	}
	sh := &models.ShipmentTracking{
		ID:             uuid.NewString(),
		WorkspaceID:    &order.WorkspaceID,
		OrderID:        &order.ID,
		TrackingNumber: in.TrackingNumber,
		CarrierID:      carrierID,
		CarrierCode:    in.Carrier.Code,
		Status:         models.StatusLabelCreated,
		LastUpdatedAt:  now,
		Source:         models.SourceEmail,
		SourceDetails:  details,
		CreatedAt:      now,
	}

	var id string
	err = tx.QueryRow(ctx, `
INSERT INTO shipments (
  id, workspace_id, order_id, tracking_number, carrier_id, status,
  last_updated_at, source, source_details, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$7)
ON CONFLICT (tracking_number) DO NOTHING
RETURNING id
`, sh.ID, sh.WorkspaceID, sh.OrderID, sh.TrackingNumber, sh.CarrierID, sh.Status,
		now, sh.Source, details).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return EmailShipmentResult{Created: false}, nil
	}
	if err != nil {
		return EmailShipmentResult{}, errors.Wrap(err, "insert shipment")
	}

	entry := models.StatusHistoryEntry{Status: sh.Status, Timestamp: now, RecordedAt: &now}
	if _, err := tx.Exec(ctx, `
INSERT INTO shipment_status_history (shipment_id, status, event_time, recorded_at)
VALUES ($1,$2,$3,$3)
`, sh.ID, entry.Status, now); err != nil {
		return EmailShipmentResult{}, errors.Wrap(err, "insert status history")
	}
	sh.StatusHistory = []models.StatusHistoryEntry{entry}

	next, shipped := models.ProjectShipped(order.Status)
	if _, err := tx.Exec(ctx, `
UPDATE orders
SET status = $2, tracking_number = COALESCE(tracking_number, $3), updated_at = now()
WHERE id = $1
`, order.ID, next, sh.TrackingNumber); err != nil {
		return EmailShipmentResult{}, errors.Wrap(err, "project order shipped")
	}
	order.Status = next

	if err := insertOutbox(ctx, tx, messages.ShipmentStatusChanged{
		EventID:        uuid.NewString(),
		Type:           messages.TypeShipmentCreated,
		ShipmentID:     sh.ID,
		WorkspaceID:    sh.WorkspaceID,
		OrderID:        sh.OrderID,
		TrackingNumber: sh.TrackingNumber,
		CarrierCode:    sh.CarrierCode,
		TrackingURL:    trackingURL(in.Carrier.TrackingURLTemplate, sh.TrackingNumber),
		NewStatus:      sh.Status,
		Notify:         shipped,
		Register:       true,
		OrderNumber:    &order.OrderNumber,
		OrderStatus:    &order.Status,
		CustomerEmail:  order.CustomerEmail,
		OccurredAt:     now,
	}); err != nil {
		return EmailShipmentResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EmailShipmentResult{}, errors.Wrap(err, "commit tx")
	}
	return EmailShipmentResult{Created: true, Shipment: sh, OrderStatus: order.Status, OrderShipped: shipped}, nil
}

func (s *Storage) ShipmentExists(ctx context.Context, trackingNumber string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shipments WHERE tracking_number = $1)`, trackingNumber).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "shipment exists")
	}
	return exists, nil
}

// GetShipmentByTrackingNumber returns nil when nothing is tracked under the number.
func (s *Storage) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ShipmentTracking, error) {
	sh, _, err := scanShipment(s.db.QueryRow(ctx, `
SELECT`+shipmentColumns+`
FROM shipments s
JOIN shipping_carriers c ON c.id = s.carrier_id
WHERE s.tracking_number = $1
`, trackingNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}

	rows, err := s.db.Query(ctx, `
SELECT status, status_detail, location, event_time, recorded_at
FROM shipment_status_history
WHERE shipment_id = $1
ORDER BY id ASC
`, sh.ID)
	if err != nil {
		return nil, errors.Wrap(err, "select status history")
	}
	defer rows.Close()

	sh.StatusHistory = []models.StatusHistoryEntry{}
	for rows.Next() {
		var e models.StatusHistoryEntry
		var recordedAt time.Time
		if err := rows.Scan(&e.Status, &e.StatusDetail, &e.Location, &e.Timestamp, &recordedAt); err != nil {
			return nil, errors.Wrap(err, "scan status history")
		}
		e.RecordedAt = &recordedAt
		sh.StatusHistory = append(sh.StatusHistory, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return sh, nil
}
