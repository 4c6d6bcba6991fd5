// Package relay moves committed outbox rows to Kafka and keeps the
// idempotency table bounded.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/pkg/errors"
)

const errBlocked = "waiting for an earlier event of the same shipment"

type Repository interface {
	ClaimDueOutbox(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEntry, error)
	MarkOutboxPublished(ctx context.Context, id string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id, lastErr string, nextAttemptAt time.Time) error
	DeferOutbox(ctx context.Context, id, reason string, until time.Time) error
	PurgeIdempotencyRecords(ctx context.Context, olderThan time.Time) (int64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Relay struct {
	repo     Repository
	producer Producer
	topic    string

	planner *Planner
	now     func() time.Time

	pollInterval  time.Duration
	batchSize     int
	concurrency   int
	lease         time.Duration
	purgeInterval time.Duration
	retention     time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	lastPurgeUnixNano   atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	totalPurged         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, topic string) *Relay {
	return &Relay{
		repo: repo, producer: producer, topic: topic,
		planner:           NewPlanner(DefaultPlannerConfig()),
		now:               func() time.Time { return time.Now().UTC() },
		pollInterval:      2 * time.Second,
		batchSize:         100,
		concurrency:       10,
		lease:             120 * time.Second,
		purgeInterval:     time.Hour,
		retention:         90 * 24 * time.Hour,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Relay) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration) *Relay {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if lease > 0 {
		r.lease = lease
	}
	return r
}

func (r *Relay) WithPlanner(cfg PlannerConfig) *Relay {
	r.planner = NewPlanner(cfg)
	return r
}

// WithRetention sets how long idempotency records are kept and how often they are purged.
func (r *Relay) WithRetention(retention, purgeInterval time.Duration) *Relay {
	if retention > 0 {
		r.retention = retention
	}
	if purgeInterval > 0 {
		r.purgeInterval = purgeInterval
	}
	return r
}

// Trigger forces an immediate relay cycle (best-effort, non-blocking).
func (r *Relay) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	LastPurgeAt    *time.Time `json:"lastPurgeAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	TotalPurged    int64      `json:"totalPurged"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func unixPtr(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

func (r *Relay) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		LastCycleAt:    unixPtr(r.lastCycleUnixNano.Load()),
		LastTriggerAt:  unixPtr(r.lastTriggerUnixNano.Load()),
		LastPurgeAt:    unixPtr(r.lastPurgeUnixNano.Load()),
		TotalClaimed:   r.totalClaimed.Load(),
		TotalPublished: r.totalPublished.Load(),
		TotalErrors:    r.totalErrors.Load(),
		TotalPurged:    r.totalPurged.Load(),
		InFlight:       r.inFlight.Load(),
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Relay) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()
	purge := time.NewTicker(r.purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		case <-purge.C:
			r.purgeOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	now := r.now()
	r.lastCycleUnixNano.Store(now.UnixNano())

	items, err := r.repo.ClaimDueOutbox(ctx, now, r.batchSize, r.lease)
	if err != nil {
		slog.Error("claim due outbox", "error", err.Error())
		r.setLastError(err)
		return
	}
	r.totalClaimed.Add(int64(len(items)))

	// События одной посылки публикуем строго по порядку, разные посылки параллельно.
	var order []string
	groups := make(map[string][]*models.OutboxEntry)
	for _, e := range items {
		if _, ok := groups[e.ShipmentID]; !ok {
			order = append(order, e.ShipmentID)
		}
		groups[e.ShipmentID] = append(groups[e.ShipmentID], e)
	}

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, shipmentID := range order {
		group := groups[shipmentID]
		sem <- struct{}{}
		wg.Add(1)
		r.inFlight.Add(int64(len(group)))
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			r.processGroup(ctx, group)
		}()
	}
	wg.Wait()
}

func (r *Relay) processGroup(ctx context.Context, group []*models.OutboxEntry) {
	var blockedUntil time.Time
	for _, e := range group {
		if !blockedUntil.IsZero() {
			if err := r.repo.DeferOutbox(ctx, e.ID, errBlocked, blockedUntil); err != nil {
				slog.Error("defer outbox entry", "id", e.ID, "error", err.Error())
			}
			r.inFlight.Add(-1)
			continue
		}

		if err := r.processOne(ctx, e); err != nil {
			r.totalErrors.Add(1)
			r.setLastError(err)
			slog.Error("publish outbox entry",
				"id", e.ID, "shipment_id", e.ShipmentID, "attempt", e.Attempts+1, "error", err.Error())

			blockedUntil = r.now().Add(r.planner.BackoffDelay(e.Attempts + 1))
			if err := r.repo.MarkOutboxFailed(ctx, e.ID, err.Error(), blockedUntil); err != nil {
				slog.Error("mark outbox failed", "id", e.ID, "error", err.Error())
			}
		}
		r.inFlight.Add(-1)
	}
}

func (r *Relay) processOne(ctx context.Context, e *models.OutboxEntry) error {
	if err := r.producer.Publish(ctx, r.topic, []byte(e.ShipmentID), e.Payload); err != nil {
		return err
	}
	r.totalPublished.Add(1)
	// Если пометка не удалась, событие уйдёт повторно после lease: потребитель идемпотентен.
	if err := r.repo.MarkOutboxPublished(ctx, e.ID, r.now()); err != nil {
		slog.Error("mark outbox published", "id", e.ID, "error", err.Error())
	}
	return nil
}

func (r *Relay) purgeOnce(ctx context.Context) {
	now := r.now()
	r.lastPurgeUnixNano.Store(now.UnixNano())

	n, err := r.repo.PurgeIdempotencyRecords(ctx, now.Add(-r.retention))
	if err != nil {
		err = errors.Wrap(err, "purge idempotency records")
		slog.Error("idempotency purge", "error", err.Error())
		r.setLastError(err)
		return
	}
	r.totalPurged.Add(n)
	if n > 0 {
		slog.Info("idempotency records purged", "count", n, "retention", r.retention.String())
	}
}
