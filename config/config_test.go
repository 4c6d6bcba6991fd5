package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  shipment_events_topic_name: "shipment.events"
redis:
  host: "localhost"
  port: 6379
trackhub:
  http_addr: ":8080"
  shipment_cache_ttl_seconds: 600
  unsigned_webhook_policy: "allow"
  email_min_confidence: "high"
  idempotency_retention_days: 30
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "shipment.events", cfg.ShipmentEventsTopic())
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.TrackHub.HTTPAddr)
	require.Equal(t, "allow", cfg.TrackHub.UnsignedWebhookPolicy)
	require.Equal(t, "high", cfg.TrackHub.EmailMinConfidence)
	require.Equal(t, 30, cfg.TrackHub.IdempotencyRetentionDays)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.PostgresDSN())
	require.Equal(t, "localhost:6379", cfg.RedisAddr())
	require.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers())
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, "shipment.status_changed", cfg.ShipmentEventsTopic())
	require.Equal(t, "shipment.status_changed.dlq", cfg.ShipmentEventsDLQTopic())

	cfg.Kafka.ShipmentEventsDLQTopicName = "shipments.parked"
	require.Equal(t, "shipments.parked", cfg.ShipmentEventsDLQTopic())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
