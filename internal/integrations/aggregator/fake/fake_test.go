package fake

import (
	"context"
	"testing"

	"github.com/BearBump/TrackHub/internal/integrations/aggregator"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_Register(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(context.Background(), aggregator.Registration{TrackingNumber: "A1", CarrierCode: "ups"}))
	require.NoError(t, c.Register(context.Background(), aggregator.Registration{TrackingNumber: "B2"}))

	regs := c.Registered()
	require.Len(t, regs, 2)
	require.Equal(t, "A1", regs[0].TrackingNumber)
}
