// Package shipping_api is the HTTP surface of the ingestion engine:
// carrier webhooks, inbound emails and the shipment read model.
package shipping_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/services/ingest"
	"github.com/BearBump/TrackHub/internal/services/shipments"
	"github.com/BearBump/TrackHub/internal/signature"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const defaultMaxBodyBytes = 1 << 20

type Ingestor interface {
	HandleWebhook(ctx context.Context, req ingest.WebhookRequest) (ingest.WebhookResult, error)
	HandleEmail(ctx context.Context, in ingest.InboundEmail) (ingest.EmailResult, error)
	NormalizerFor(carrier string) string
	Carriers() []string
}

type Shipments interface {
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ShipmentTracking, error)
	ListIngestEvents(ctx context.Context, status string, limit int) ([]*models.RawIngestEvent, error)
}

type RateLimiter interface {
	AllowWebhook(ctx context.Context, carrier string, perMinute int64) (bool, error)
}

type Options struct {
	MaxBodyBytes       int64
	RateLimitPerMinute int64
}

type ShippingAPI struct {
	ingest    Ingestor
	shipments Shipments
	rl        RateLimiter
	opts      Options
	now       func() time.Time
}

func New(ing Ingestor, sh Shipments, rl RateLimiter, opts Options) *ShippingAPI {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &ShippingAPI{
		ingest:    ing,
		shipments: sh,
		rl:        rl,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts all routes on r.
func (a *ShippingAPI) Register(r chi.Router) {
	r.Post("/webhooks/shipping/{carrier}", a.handleWebhook)
	r.Get("/webhooks/shipping/{carrier}", a.handleWebhookHealth)
	r.Options("/webhooks/shipping/{carrier}", a.handleWebhookOptions)
	r.Post("/inbound/email", a.handleEmail)
	r.Get("/shipments/{trackingNumber}", a.handleGetShipment)
	r.Get("/ingest-events", a.handleListIngestEvents)
}

type errorResponse struct {
	Error string `json:"error"`
}

type webhookResponse struct {
	Success bool `json:"success"`
	ingest.WebhookResult
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

var errBodyTooLarge = errors.New("request body too large")

func (a *ShippingAPI) readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, a.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if int64(len(b)) > a.opts.MaxBodyBytes {
		return nil, errBodyTooLarge
	}
	return b, nil
}

// statusFor maps ingestion errors onto the carrier-facing protocol.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, ingest.ErrMalformedInput), errors.Is(err, ingest.ErrNormalization):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *ShippingAPI) handleWebhook(w http.ResponseWriter, r *http.Request) {
	carrier := strings.ToLower(chi.URLParam(r, "carrier"))

	if a.rl != nil && a.opts.RateLimitPerMinute > 0 {
		ok, err := a.rl.AllowWebhook(r.Context(), carrier, a.opts.RateLimitPerMinute)
		if err != nil {
			// Redis недоступен: пропускаем, лимит вторичен по сравнению с приёмом событий
			slog.Warn("webhook rate limit check failed", "carrier", carrier, "error", err.Error())
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	body, err := a.readBody(r)
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.ingest.HandleWebhook(r.Context(), ingest.WebhookRequest{
		Carrier: carrier,
		Body:    body,
		Headers: r.Header,
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("webhook processing failed", "carrier", carrier, "error", err.Error())
			writeError(w, status, "internal error")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Success: true, WebhookResult: res})
}

func (a *ShippingAPI) handleWebhookHealth(w http.ResponseWriter, r *http.Request) {
	carrier := chi.URLParam(r, "carrier")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"carrier":           carrier,
		"normalizer":        a.ingest.NormalizerFor(carrier),
		"supportedCarriers": a.ingest.Carriers(),
		"timestamp":         a.now().Format(time.RFC3339),
	})
}

var corsAllowHeaders = strings.Join(append([]string{"Content-Type"}, signature.HeaderNames...), ", ")

func (a *ShippingAPI) handleWebhookOptions(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	w.WriteHeader(http.StatusNoContent)
}

func (a *ShippingAPI) handleEmail(w http.ResponseWriter, r *http.Request) {
	body, err := a.readBody(r)
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in ingest.InboundEmail
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := a.ingest.HandleEmail(r.Context(), in)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("email processing failed", "from", in.FromEmail, "error", err.Error())
			writeError(w, status, "internal error")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *ShippingAPI) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	st, err := a.shipments.GetByTrackingNumber(r.Context(), chi.URLParam(r, "trackingNumber"))
	switch {
	case errors.Is(err, shipments.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, shipments.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		slog.Error("get shipment", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

func (a *ShippingAPI) handleListIngestEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	evs, err := a.shipments.ListIngestEvents(r.Context(), q.Get("status"), limit)
	switch {
	case errors.Is(err, shipments.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		slog.Error("list ingest events", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		if evs == nil {
			evs = []*models.RawIngestEvent{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": evs})
	}
}
