package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

type failedMark struct {
	lastErr string
	next    time.Time
}

type fakeRepo struct {
	mu sync.Mutex

	due      []*models.OutboxEntry
	claimErr error
	calls    int

	published map[string]time.Time
	failed    map[string]failedMark
	deferred  map[string]failedMark

	purgedBefore time.Time
	purgeN       int64
	purgeErr     error
}

func newFakeRepo(due ...*models.OutboxEntry) *fakeRepo {
	return &fakeRepo{
		due:       due,
		published: map[string]time.Time{},
		failed:    map[string]failedMark{},
		deferred:  map[string]failedMark{},
	}
}

func (r *fakeRepo) ClaimDueOutbox(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	out := r.due
	r.due = nil
	return out, r.claimErr
}

func (r *fakeRepo) MarkOutboxPublished(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[id] = at
	return nil
}

func (r *fakeRepo) MarkOutboxFailed(ctx context.Context, id, lastErr string, nextAttemptAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = failedMark{lastErr: lastErr, next: nextAttemptAt}
	return nil
}

func (r *fakeRepo) DeferOutbox(ctx context.Context, id, reason string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred[id] = failedMark{lastErr: reason, next: until}
	return nil
}

func (r *fakeRepo) PurgeIdempotencyRecords(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgedBefore = olderThan
	return r.purgeN, r.purgeErr
}

type fakeProducer struct {
	mu     sync.Mutex
	failOn map[string]bool
	sent   []string
	keys   map[string]string
	topic  string
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	if p.failOn[string(value)] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, string(value))
	if p.keys == nil {
		p.keys = map[string]string{}
	}
	p.keys[string(value)] = string(key)
	return nil
}

func entry(id, shipmentID string, attempts int) *models.OutboxEntry {
	return &models.OutboxEntry{ID: id, ShipmentID: shipmentID, Payload: []byte(id), Attempts: attempts, Status: models.OutboxStatusPending}
}

func newTestRelay(repo *fakeRepo, prod *fakeProducer) *Relay {
	r := New(repo, prod, "shipment.status_changed")
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestRelay_PublishesWithShipmentKey(t *testing.T) {
	repo := newFakeRepo(entry("e1", "s1", 0), entry("e2", "s2", 0))
	prod := &fakeProducer{}
	r := newTestRelay(repo, prod)

	r.runOnce(context.Background())

	require.ElementsMatch(t, []string{"e1", "e2"}, prod.sent)
	require.Equal(t, "shipment.status_changed", prod.topic)
	require.Equal(t, "s1", prod.keys["e1"])
	require.Equal(t, "s2", prod.keys["e2"])
	require.Equal(t, fixedNow, repo.published["e1"])
	require.Empty(t, repo.failed)

	st := r.Stats()
	require.Equal(t, int64(2), st.TotalClaimed)
	require.Equal(t, int64(2), st.TotalPublished)
	require.Equal(t, int64(0), st.InFlight)
	require.NotNil(t, st.LastCycleAt)
}

func TestRelay_FailureBacksOffAndBlocksLaterEventsOfSameShipment(t *testing.T) {
	repo := newFakeRepo(entry("e1", "s1", 2), entry("e2", "s1", 0), entry("e3", "s2", 0))
	prod := &fakeProducer{failOn: map[string]bool{"e1": true}}
	r := newTestRelay(repo, prod)

	r.runOnce(context.Background())

	// третья попытка => 30 минут
	require.Equal(t, fixedNow.Add(30*time.Minute), repo.failed["e1"].next)
	require.Contains(t, repo.failed["e1"].lastErr, "broker unavailable")
	// e2 отложен до того же момента, но попытка ему не засчитывается
	require.Equal(t, fixedNow.Add(30*time.Minute), repo.deferred["e2"].next)
	require.Equal(t, errBlocked, repo.deferred["e2"].lastErr)
	require.NotContains(t, repo.failed, "e2")
	require.NotContains(t, repo.deferred, "e3")

	require.Equal(t, []string{"e3"}, prod.sent)
	require.NotContains(t, repo.published, "e2")

	st := r.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Equal(t, int64(0), st.InFlight)
	require.Contains(t, st.LastError, "broker unavailable")
}

func TestRelay_ClaimErrorRecorded(t *testing.T) {
	repo := newFakeRepo()
	repo.claimErr = errors.New("db down")
	r := newTestRelay(repo, &fakeProducer{})

	r.runOnce(context.Background())
	require.Equal(t, "db down", r.Stats().LastError)
}

func TestRelay_Purge(t *testing.T) {
	repo := newFakeRepo()
	repo.purgeN = 7
	r := newTestRelay(repo, &fakeProducer{}).WithRetention(48*time.Hour, 0)

	r.purgeOnce(context.Background())
	require.Equal(t, fixedNow.Add(-48*time.Hour), repo.purgedBefore)
	require.Equal(t, int64(7), r.Stats().TotalPurged)
	require.NotNil(t, r.Stats().LastPurgeAt)

	repo.purgeErr = errors.New("locked")
	r.purgeOnce(context.Background())
	require.Contains(t, r.Stats().LastError, "purge idempotency records")
}

func TestRelay_DefaultRetentionIs90Days(t *testing.T) {
	r := New(newFakeRepo(), &fakeProducer{}, "t")
	require.Equal(t, 90*24*time.Hour, r.retention)
	require.Equal(t, time.Hour, r.purgeInterval)
}

func TestRelay_WithSettings(t *testing.T) {
	r := New(nil, &fakeProducer{}, "t").WithSettings(5*time.Second, 7, 9, 11*time.Second)
	require.Equal(t, 5*time.Second, r.pollInterval)
	require.Equal(t, 7, r.batchSize)
	require.Equal(t, 9, r.concurrency)
	require.Equal(t, 11*time.Second, r.lease)
}

func TestRelay_Run_StopsOnContextCancel(t *testing.T) {
	repo := newFakeRepo()
	r := New(repo, &fakeProducer{}, "t").WithSettings(5*time.Millisecond, 1, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.GreaterOrEqual(t, repo.calls, 1)
}

func TestRelay_TriggerNonBlocking(t *testing.T) {
	r := New(newFakeRepo(), &fakeProducer{}, "t")
	r.Trigger()
	r.Trigger()
	require.NotNil(t, r.Stats().LastTriggerAt)
	require.Len(t, r.triggerCh, 1)
}
