package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_Send_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/notifications", r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.Equal(t, "ev-1", r.Header.Get("Idempotency-Key"))

		var n Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		require.Equal(t, "shipment_delivered", n.Template)
		require.Equal(t, "TRACK123", n.TrackingNumber)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := New(srv.URL, "k").Send(context.Background(), Notification{
		EventID:        "ev-1",
		Template:       TemplateFor("delivered"),
		TrackingNumber: "TRACK123",
		Status:         "delivered",
	})
	require.NoError(t, err)
}

func TestClient_Send_ConflictIsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL, "").Send(context.Background(), Notification{EventID: "ev-1"}))
}

func TestClient_Send_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, "").Send(context.Background(), Notification{EventID: "ev-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "notifier http 502")
}

func TestLogSender(t *testing.T) {
	require.NoError(t, LogSender{}.Send(context.Background(), Notification{EventID: "ev-1"}))
}
