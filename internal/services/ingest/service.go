// Package ingest turns inbound carrier webhooks and shipping emails into
// shipment state changes.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/emailparse"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/normalize"
	"github.com/BearBump/TrackHub/internal/storage/pgshipping"
	"github.com/pkg/errors"
)

var (
	ErrMalformedInput = errors.New("malformed input")
	ErrAuthFailure    = errors.New("authentication failed")
	ErrNormalization  = errors.New("normalization failed")
)

const (
	PolicyReject = "reject"
	PolicyAllow  = "allow"
)

const (
	OutcomeApplied      = pgshipping.OutcomeApplied
	OutcomeDuplicate    = pgshipping.OutcomeDuplicate
	OutcomeUnmatched    = pgshipping.OutcomeUnmatched
	OutcomeIgnored      = "ignored"
	OutcomeManualReview = "manual_review"
	OutcomeProcessed    = "processed"
	OutcomeCreated      = "created"
	OutcomeSkipped      = "skipped_existing"
)

const unmatchedMessage = "unmatched tracking number"

type Store interface {
	GetWebhookEndpoint(ctx context.Context, provider string) (*models.WebhookEndpointConfig, error)
	TouchWebhookEndpoint(ctx context.Context, provider string, at time.Time) error
	CreateRawEvent(ctx context.Context, ev *models.RawIngestEvent) error
	FinishRawEvent(ctx context.Context, id, status string, errMsg *string) error
	ApplyTrackingEvent(ctx context.Context, in pgshipping.ApplyInput) (pgshipping.ApplyResult, error)

	ShipmentExists(ctx context.Context, trackingNumber string) (bool, error)
	FindOrderByNumber(ctx context.Context, ref string) (*models.Order, error)
	FindOrdersByNumberLike(ctx context.Context, ref string, limit int) ([]*models.Order, error)
	CreateEmailShipment(ctx context.Context, in pgshipping.EmailShipmentInput) (pgshipping.EmailShipmentResult, error)
}

type Normalizer interface {
	Normalize(carrierCode string, raw []byte) (*models.NormalizedTrackingEvent, error)
	MapStatus(carrierCode, native string) (string, bool)
	Envelope(carrierCode string, raw []byte) normalize.Envelope
	IsRegistered(carrierCode string) bool
	Codes() []string
}

// Invalidator drops cached read-model entries after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, trackingNumber string) error
}

type Options struct {
	// UnsignedPolicy decides what happens to a webhook whose endpoint has no secret.
	UnsignedPolicy string
	MinConfidence  emailparse.Confidence
}

type Service struct {
	store      Store
	normalizer Normalizer
	cache      Invalidator
	opts       Options
	now        func() time.Time
}

func New(store Store, n Normalizer, inv Invalidator, opts Options) *Service {
	if opts.UnsignedPolicy != PolicyAllow {
		opts.UnsignedPolicy = PolicyReject
	}
	if opts.MinConfidence == "" {
		opts.MinConfidence = emailparse.ConfidenceMedium
	}
	return &Service{
		store:      store,
		normalizer: n,
		cache:      inv,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NormalizerFor names the normalizer a carrier's webhooks go through.
func (s *Service) NormalizerFor(carrier string) string {
	carrier = strings.ToLower(strings.TrimSpace(carrier))
	if s.normalizer.IsRegistered(carrier) {
		return carrier
	}
	return normalize.GenericCode
}

// Carriers lists the carrier codes with a dedicated normalizer.
func (s *Service) Carriers() []string {
	return s.normalizer.Codes()
}

func (s *Service) invalidate(ctx context.Context, trackingNumber string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, trackingNumber)
}

func strPtr(v string) *string { return &v }
