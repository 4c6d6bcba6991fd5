// Package shipments serves the current-state read model of shipments,
// cached in front of Postgres.
package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/cache"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("shipment not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

type Repository interface {
	GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ShipmentTracking, error)
	ListRawEvents(ctx context.Context, status string, limit int) ([]*models.RawIngestEvent, error)
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

// GetByTrackingNumber returns the shipment with its full status history.
// Кэш best-effort: любые ошибки Redis означают промах.
func (s *Service) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ShipmentTracking, error) {
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "trackingNumber is required")
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, CurrentKey(tn))
		if err == nil && ok {
			var st models.ShipmentTracking
			if json.Unmarshal(b, &st) == nil {
				return &st, nil
			}
		}
	}

	st, err := s.repo.GetShipmentByTrackingNumber(ctx, tn)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotFound
	}

	if s.cacheEnabled() {
		b, _ := json.Marshal(st)
		_ = s.cache.Set(ctx, CurrentKey(tn), b, s.currentTTL)
	}
	return st, nil
}

// Invalidate drops the cached current state after a write.
func (s *Service) Invalidate(ctx context.Context, trackingNumber string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, CurrentKey(strings.TrimSpace(trackingNumber)))
}

// ListIngestEvents returns the newest raw webhook events, optionally filtered by status.
func (s *Service) ListIngestEvents(ctx context.Context, status string, limit int) ([]*models.RawIngestEvent, error) {
	switch status {
	case "", models.IngestStatusPending, models.IngestStatusProcessed, models.IngestStatusFailed:
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "unknown status %q", status)
	}
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	return s.repo.ListRawEvents(ctx, status, limit)
}

func CurrentKey(trackingNumber string) string {
	return fmt.Sprintf("shipment:%s:current", trackingNumber)
}
