package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/normalize"
	"github.com/BearBump/TrackHub/internal/signature"
	"github.com/BearBump/TrackHub/internal/storage/pgshipping"
	"github.com/pkg/errors"
)

const (
	verificationVerified   = "verified"
	verificationUnverified = "unverified"
)

type WebhookRequest struct {
	Carrier string
	Body    []byte
	Headers http.Header
}

type WebhookResult struct {
	EventID        string `json:"eventId"`
	Outcome        string `json:"outcome"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	Status         string `json:"status,omitempty"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	Notify         bool   `json:"notify"`
}

// ProviderName is the audit/idempotency provider for a carrier webhook.
func ProviderName(carrierCode string) string {
	return "shipping-" + carrierCode
}

// HandleWebhook verifies, records, normalizes and applies one carrier webhook.
// Ошибка аутентификации возвращается до любой записи в БД.
func (s *Service) HandleWebhook(ctx context.Context, req WebhookRequest) (WebhookResult, error) {
	carrier := strings.ToLower(strings.TrimSpace(req.Carrier))
	if carrier == "" {
		return WebhookResult{}, errors.Wrap(ErrMalformedInput, "carrier is required")
	}
	provider := ProviderName(carrier)

	endpoint, err := s.store.GetWebhookEndpoint(ctx, provider)
	if err != nil {
		return WebhookResult{}, errors.Wrap(err, "load webhook endpoint")
	}
	if endpoint != nil && !endpoint.IsActive {
		slog.Warn("webhook for disabled endpoint", "provider", provider)
		return WebhookResult{}, errors.Wrap(ErrAuthFailure, "webhook endpoint disabled")
	}

	verification, err := s.verify(carrier, provider, endpoint, req)
	if err != nil {
		return WebhookResult{}, err
	}

	env := s.normalizer.Envelope(carrier, req.Body)
	headers := auditHeaders(req.Headers, verification)
	headers["normalizer"] = s.NormalizerFor(carrier)
	raw := &models.RawIngestEvent{
		Provider:   provider,
		EventType:  env.EventType,
		ExternalID: env.ExternalID,
		Payload:    req.Body,
		Headers:    headers,
		Status:     models.IngestStatusPending,
	}
	if err := s.store.CreateRawEvent(ctx, raw); err != nil {
		return WebhookResult{}, errors.Wrap(err, "store raw event")
	}
	res := WebhookResult{EventID: raw.ID}

	if !json.Valid(req.Body) {
		s.finish(ctx, raw.ID, models.IngestStatusFailed, strPtr("malformed json payload"))
		return res, errors.Wrap(ErrMalformedInput, "body is not valid json")
	}

	ev, err := s.normalizer.Normalize(carrier, req.Body)
	if err != nil {
		s.finish(ctx, raw.ID, models.IngestStatusFailed, strPtr(err.Error()))
		if errors.Is(err, normalize.ErrMalformed) {
			return res, errors.Wrap(ErrMalformedInput, err.Error())
		}
		return res, errors.Wrap(ErrNormalization, err.Error())
	}
	if ev == nil {
		s.finish(ctx, raw.ID, models.IngestStatusFailed, strPtr("payload not recognized as a tracking update"))
		return res, errors.Wrapf(ErrNormalization, "%s payload not recognized", carrier)
	}
	ev.RawPayloadRef = raw.ID
	res.TrackingNumber = ev.TrackingNumber
	res.Status = ev.CanonicalStatus

	if _, mapped := s.normalizer.MapStatus(carrier, ev.NativeStatus); !mapped {
		slog.Warn("unmapped carrier status",
			"carrier", carrier, "native_status", ev.NativeStatus, "tracking_number", ev.TrackingNumber)
	}

	applied, err := s.store.ApplyTrackingEvent(ctx, pgshipping.ApplyInput{
		Provider:   provider,
		EventKey:   ev.IdempotencyKey(carrier),
		Event:      *ev,
		ReceivedAt: s.now(),
	})
	if err != nil {
		s.finish(ctx, raw.ID, models.IngestStatusFailed, strPtr(err.Error()))
		return res, errors.Wrap(err, "apply tracking event")
	}
	res.Outcome = applied.Outcome

	switch applied.Outcome {
	case pgshipping.OutcomeDuplicate:
		slog.Info("duplicate webhook ignored", "provider", provider, "tracking_number", ev.TrackingNumber)
		s.finish(ctx, raw.ID, models.IngestStatusProcessed, nil)
	case pgshipping.OutcomeUnmatched:
		// обработано, но без отгрузки: оставляем след для сверки
		slog.Warn("webhook for unknown tracking number", "provider", provider, "tracking_number", ev.TrackingNumber)
		s.finish(ctx, raw.ID, models.IngestStatusProcessed, strPtr(unmatchedMessage))
	default:
		res.PreviousStatus = applied.Change.PreviousStatus
		res.Notify = applied.Change.Notify
		if err := s.invalidate(ctx, ev.TrackingNumber); err != nil {
			slog.Warn("cache invalidate failed", "tracking_number", ev.TrackingNumber, "error", err.Error())
		}
		s.finish(ctx, raw.ID, models.IngestStatusProcessed, nil)
	}

	if endpoint != nil {
		if err := s.store.TouchWebhookEndpoint(ctx, provider, s.now()); err != nil {
			slog.Warn("touch webhook endpoint failed", "provider", provider, "error", err.Error())
		}
	}
	return res, nil
}

func (s *Service) verify(carrier, provider string, endpoint *models.WebhookEndpointConfig, req WebhookRequest) (string, error) {
	secret := endpoint.Secret()
	if secret == "" {
		if s.opts.UnsignedPolicy != PolicyAllow {
			slog.Warn("unsigned webhook rejected", "provider", provider)
			return "", errors.Wrap(ErrAuthFailure, "no webhook secret configured")
		}
		slog.Warn("unverified webhook accepted", "provider", provider)
		return verificationUnverified, nil
	}

	header := signature.FromHeaders(req.Headers)
	if !signature.Verify(carrier, req.Body, header, secret) {
		slog.Warn("webhook signature mismatch", "provider", provider, "has_signature", header != "")
		return "", errors.Wrap(ErrAuthFailure, "signature mismatch")
	}
	return verificationVerified, nil
}

// finish is best-effort: the shipment write has already succeeded or failed on its own.
func (s *Service) finish(ctx context.Context, id, status string, errMsg *string) {
	if err := s.store.FinishRawEvent(ctx, id, status, errMsg); err != nil {
		slog.Error("finish raw event failed", "id", id, "status", status, "error", err.Error())
	}
}

var auditHeaderNames = append([]string{"Content-Type", "User-Agent"}, signature.HeaderNames...)

func auditHeaders(h http.Header, verification string) map[string]string {
	out := map[string]string{"verification": verification}
	for _, name := range auditHeaderNames {
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}
