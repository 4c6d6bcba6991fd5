package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShipmentTracking_Apply(t *testing.T) {
	eta := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	s := &ShipmentTracking{ID: "s1", Status: StatusLabelCreated}

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ch := s.Apply(NormalizedTrackingEvent{
		TrackingNumber:    "T1",
		CanonicalStatus:   StatusInTransit,
		EventTimestamp:    now.Add(-time.Hour),
		EstimatedDelivery: &eta,
	}, now)

	require.Equal(t, StatusLabelCreated, ch.PreviousStatus)
	require.Equal(t, StatusInTransit, ch.NewStatus)
	require.True(t, ch.Notify)
	require.Equal(t, StatusInTransit, s.Status)
	require.Len(t, s.StatusHistory, 1)
	require.Equal(t, &eta, s.EstimatedDelivery)
	require.Equal(t, now, s.LastUpdatedAt)
	require.Nil(t, s.DeliveredAt)

	// тот же статус ещё раз: история растёт, уведомления нет
	ch = s.Apply(NormalizedTrackingEvent{CanonicalStatus: StatusInTransit, EventTimestamp: now}, now.Add(time.Minute))
	require.False(t, ch.Notify)
	require.Len(t, s.StatusHistory, 2)
	require.Equal(t, &eta, s.EstimatedDelivery)

	ch = s.Apply(NormalizedTrackingEvent{CanonicalStatus: StatusDelivered, EventTimestamp: now.Add(time.Hour)}, now.Add(2*time.Hour))
	require.True(t, ch.Notify)
	require.NotNil(t, s.DeliveredAt)
	require.Equal(t, now.Add(time.Hour), *s.DeliveredAt)
}

func TestShouldNotify(t *testing.T) {
	require.True(t, ShouldNotify(nil, StatusDelivered))
	require.True(t, ShouldNotify([]string{StatusInTransit}, StatusDelivered))
	require.False(t, ShouldNotify([]string{StatusDelivered}, StatusDelivered))
	require.False(t, ShouldNotify(nil, StatusPreTransit))
	// unmapped vendor literal
	require.False(t, ShouldNotify(nil, "held_at_customs"))
}

func TestApply_NotifiesOncePerStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     map[string]int
	}{
		{
			name:     "non-notifiable ping between repeats",
			statuses: []string{StatusInTransit, StatusPreTransit, StatusInTransit},
			want:     map[string]int{StatusInTransit: 1},
		},
		{
			name:     "unmapped literal between repeats",
			statuses: []string{StatusInTransit, StatusPreTransit, StatusInTransit, "weird_vendor_code", StatusInTransit},
			want:     map[string]int{StatusInTransit: 1},
		},
		{
			name:     "notifiable hops",
			statuses: []string{StatusInTransit, StatusOutForDelivery, StatusInTransit, StatusDelivered, StatusDelivered},
			want:     map[string]int{StatusInTransit: 1, StatusOutForDelivery: 1, StatusDelivered: 1},
		},
		{
			name:     "silent statuses only",
			statuses: []string{StatusLabelCreated, StatusPreTransit, StatusUnknown},
			want:     map[string]int{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &ShipmentTracking{ID: "s1", Status: StatusLabelCreated}
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

			got := map[string]int{}
			for i, st := range tc.statuses {
				at := now.Add(time.Duration(i) * time.Minute)
				if s.Apply(NormalizedTrackingEvent{CanonicalStatus: st, EventTimestamp: at}, at).Notify {
					got[st]++
				}
			}
			require.Equal(t, tc.want, got)
			require.Len(t, s.StatusHistory, len(tc.statuses))
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := NormalizedTrackingEvent{TrackingNumber: "TRACK123", EventTimestamp: ts, HasTimestamp: true, PayloadDigest: "abc"}
	require.Equal(t, "generic-TRACK123-2024-01-01T00:00:00Z", ev.IdempotencyKey("generic"))

	ev.HasTimestamp = false
	require.Equal(t, "generic-TRACK123-abc", ev.IdempotencyKey("generic"))
}

func TestProjectDelivered(t *testing.T) {
	st, changed := ProjectDelivered(OrderStatusShipped, StatusDelivered)
	require.True(t, changed)
	require.Equal(t, OrderStatusDelivered, st)

	st, changed = ProjectDelivered(OrderStatusDelivered, StatusDelivered)
	require.False(t, changed)
	require.Equal(t, OrderStatusDelivered, st)

	// no automatic re-open
	st, changed = ProjectDelivered(OrderStatusDelivered, StatusReturned)
	require.False(t, changed)
	require.Equal(t, OrderStatusDelivered, st)

	_, changed = ProjectDelivered(OrderStatusShipped, StatusOutForDelivery)
	require.False(t, changed)
}

func TestProjectShipped(t *testing.T) {
	st, changed := ProjectShipped(OrderStatusPending)
	require.True(t, changed)
	require.Equal(t, OrderStatusShipped, st)

	_, changed = ProjectShipped(OrderStatusDelivered)
	require.False(t, changed)
}

func TestFallbackStatus(t *testing.T) {
	require.Equal(t, "held_at_customs", FallbackStatus(" HELD_AT_CUSTOMS "))
	require.Equal(t, StatusUnknown, FallbackStatus(""))
	require.True(t, IsCanonical(StatusExpired))
	require.False(t, IsCanonical("held_at_customs"))
}
