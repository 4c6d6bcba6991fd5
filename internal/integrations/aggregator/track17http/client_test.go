package track17http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/TrackHub/internal/integrations/aggregator"
	"github.com/stretchr/testify/require"
)

func TestClient_Register_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/track/v2.2/register", r.URL.Path)
		require.Equal(t, "demo", r.Header.Get("17token"))

		var items []registerItem
		require.NoError(t, json.NewDecoder(r.Body).Decode(&items))
		require.Len(t, items, 1)
		require.Equal(t, "1Z999AA10123456784", items[0].Number)
		require.Equal(t, 100002, items[0].Carrier)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":{"accepted":[{"number":"1Z999AA10123456784"}],"rejected":[]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "demo")
	err := c.Register(context.Background(), aggregator.Registration{TrackingNumber: "1Z999AA10123456784", CarrierCode: "UPS"})
	require.NoError(t, err)
}

func TestClient_Register_AlreadyRegisteredIsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"accepted":[],"rejected":[{"number":"X1","error":{"code":-18019901,"message":"already registered"}}]}}`))
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL, "demo").Register(context.Background(), aggregator.Registration{TrackingNumber: "X1"}))
}

func TestClient_Register_Errors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   string
	}{
		"rate limit": {status: 429, want: "429"},
		"http 500":   {status: 500, want: "http 500"},
		"bad code":   {status: 200, body: `{"code":-1}`, want: "code=-1"},
		"rejected":   {status: 200, body: `{"code":0,"data":{"rejected":[{"number":"X1","error":{"code":-18019902,"message":"invalid number"}}]}}`, want: "invalid number"},
		"bad json":   {status: 200, body: `{`, want: "decode"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			err := New(srv.URL, "demo").Register(context.Background(), aggregator.Registration{TrackingNumber: "X1"})
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
