package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/BearBump/TrackHub/internal/api/shipping_api"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/services/ingest"
	"github.com/BearBump/TrackHub/internal/services/shipments"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{}

func (r *fakeRepo) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ShipmentTracking, error) {
	return &models.ShipmentTracking{ID: "s1", TrackingNumber: trackingNumber, Status: models.StatusInTransit}, nil
}
func (r *fakeRepo) ListRawEvents(ctx context.Context, status string, limit int) ([]*models.RawIngestEvent, error) {
	return []*models.RawIngestEvent{}, nil
}

type fakeIngestor struct{}

func (fakeIngestor) HandleWebhook(ctx context.Context, req ingest.WebhookRequest) (ingest.WebhookResult, error) {
	return ingest.WebhookResult{Outcome: ingest.OutcomeUnmatched}, nil
}
func (fakeIngestor) HandleEmail(ctx context.Context, in ingest.InboundEmail) (ingest.EmailResult, error) {
	return ingest.EmailResult{Outcome: ingest.OutcomeIgnored}, nil
}
func (fakeIngestor) NormalizerFor(carrier string) string { return "generic" }
func (fakeIngestor) Carriers() []string                 { return []string{"generic"} }

func writeSwagger(t *testing.T) string {
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func get(t *testing.T, url string) (int, string) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRunShippingAPI_ServesRoutes(t *testing.T) {
	api := shipping_api.New(fakeIngestor{}, shipments.New(&fakeRepo{}, nil, 0), nil, shipping_api.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := shippingAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		ready:       func(ctx context.Context) error { return errors.New("db down") },
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runShippingAPI(ctx, opts, api) }()
	base := "http://" + <-addrCh

	code, body := get(t, base+"/swagger.json")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"swagger"`)

	code, _ = get(t, base+"/healthz")
	require.Equal(t, http.StatusOK, code)

	code, _ = get(t, base+"/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, body = get(t, base+"/shipments/TRACK123")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"trackingNumber":"TRACK123"`)

	resp, err := http.Post(base+"/webhooks/shipping/generic", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRunShippingAPI_SwaggerRequired(t *testing.T) {
	err := runShippingAPI(context.Background(), shippingAPIOpts{httpAddr: "127.0.0.1:0"}, nil)
	require.Error(t, err)

	err = runShippingAPI(context.Background(), shippingAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}, nil)
	require.Error(t, err)
}
