package pgshipping

import (
	"context"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// GetWebhookEndpoint returns nil when the provider has no endpoint row.
func (s *Storage) GetWebhookEndpoint(ctx context.Context, provider string) (*models.WebhookEndpointConfig, error) {
	var c models.WebhookEndpointConfig
	err := s.db.QueryRow(ctx, `
SELECT provider, secret_key, is_active, last_received_at
FROM webhook_endpoints
WHERE provider = $1
`, provider).Scan(&c.Provider, &c.SecretKey, &c.IsActive, &c.LastReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select webhook endpoint")
	}
	return &c, nil
}

func (s *Storage) UpsertWebhookEndpoint(ctx context.Context, c models.WebhookEndpointConfig) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO webhook_endpoints (provider, secret_key, is_active)
VALUES ($1,$2,$3)
ON CONFLICT (provider) DO UPDATE SET secret_key = EXCLUDED.secret_key, is_active = EXCLUDED.is_active
`, c.Provider, c.SecretKey, c.IsActive)
	return errors.Wrap(err, "upsert webhook endpoint")
}

func (s *Storage) TouchWebhookEndpoint(ctx context.Context, provider string, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE webhook_endpoints SET last_received_at = $2 WHERE provider = $1`, provider, at.UTC())
	return errors.Wrap(err, "touch webhook endpoint")
}
