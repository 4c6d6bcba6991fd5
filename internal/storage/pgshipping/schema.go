package pgshipping

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS raw_ingest_events (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  event_type TEXT NOT NULL,
  external_id TEXT NULL,
  payload JSONB NULL,
  headers JSONB NOT NULL DEFAULT '{}'::jsonb,
  status TEXT NOT NULL,
  error_message TEXT NULL,
  processed_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_ingest_events_status_created ON raw_ingest_events(status, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS shipping_carriers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  code TEXT NOT NULL UNIQUE,
  tracking_url_template TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  order_number TEXT NOT NULL,
  status TEXT NOT NULL,
  tracking_number TEXT NULL,
  customer_email TEXT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_order_number_upper ON orders(upper(order_number))`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id TEXT PRIMARY KEY,
  workspace_id TEXT NULL,
  order_id TEXT NULL REFERENCES orders(id) ON DELETE SET NULL,
  tracking_number TEXT NOT NULL,
  carrier_id TEXT NOT NULL REFERENCES shipping_carriers(id),
  status TEXT NOT NULL,
  estimated_delivery TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  last_updated_at TIMESTAMPTZ NOT NULL,
  source TEXT NOT NULL,
  source_details JSONB NOT NULL DEFAULT '{}'::jsonb,
  notified_statuses TEXT[] NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`ALTER TABLE shipments ADD COLUMN IF NOT EXISTS notified_statuses TEXT[] NOT NULL DEFAULT '{}'`,
		// Номер трека пока уникален глобально, поиск идёт без workspace.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipments_tracking_number ON shipments(tracking_number)`,
		`
CREATE TABLE IF NOT EXISTS shipment_status_history (
  id BIGSERIAL PRIMARY KEY,
  shipment_id TEXT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  status_detail TEXT NULL,
  location TEXT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_status_history_shipment ON shipment_status_history(shipment_id, id)`,
		`
CREATE TABLE IF NOT EXISTS idempotency_records (
  provider TEXT NOT NULL,
  event_key TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (provider, event_key)
)`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_records_created_at ON idempotency_records(created_at)`,
		`
CREATE TABLE IF NOT EXISTS webhook_endpoints (
  provider TEXT PRIMARY KEY,
  secret_key TEXT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  last_received_at TIMESTAMPTZ NULL
)`,
		`
CREATE TABLE IF NOT EXISTS shipment_outbox (
  id TEXT PRIMARY KEY,
  seq BIGSERIAL,
  shipment_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  payload JSONB NOT NULL,
  status TEXT NOT NULL,
  attempts INT NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  published_at TIMESTAMPTZ NULL
)`,
		`ALTER TABLE shipment_outbox ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_outbox_due ON shipment_outbox(next_attempt_at) WHERE status = 'pending'`,
		// seq задаёт порядок событий одной посылки: строка посылки заблокирована на время вставки.
		`CREATE INDEX IF NOT EXISTS idx_shipment_outbox_shipment_pending ON shipment_outbox(shipment_id, seq) WHERE status = 'pending'`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
