package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

func TestVerify_RoundTripPerVendor(t *testing.T) {
	body := []byte(`{"tracking_number":"TRACK123","status":"delivered"}`)
	for _, code := range []string{"shipstation", "shippo", "easypost", "generic", "acme"} {
		sig := Sign(code, body, secret)
		require.True(t, Verify(code, body, sig, secret), code)
	}
}

func TestVerify_TamperedBodyRejected(t *testing.T) {
	body := []byte(`{"tracking_number":"TRACK123","status":"in_transit"}`)
	tampered := []byte(`{"tracking_number":"TRACK123","status":"delivered"}`)
	for _, code := range []string{"shipstation", "shippo", "easypost", "generic"} {
		sig := Sign(code, body, secret)
		require.False(t, Verify(code, tampered, sig, secret), code)
	}
}

func TestVerify_GenericAcceptsPrefixedForm(t *testing.T) {
	body := []byte(`{}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	digest := hex.EncodeToString(mac.Sum(nil))

	require.True(t, Verify("generic", body, digest, secret))
	require.True(t, Verify("generic", body, "sha256="+digest, secret))
	require.False(t, Verify("generic", body, "sha1="+digest, secret))
}

func TestVerify_EasyPostNeedsPrefix(t *testing.T) {
	body := []byte(`{"description":"tracker.updated"}`)
	sig := Sign("easypost", body, secret)
	require.False(t, Verify("easypost", body, sig[len(easyPostPrefix):], secret))
}

func TestVerify_WrongSecretOrEmpty(t *testing.T) {
	body := []byte(`{}`)
	sig := Sign("shippo", body, secret)
	require.False(t, Verify("shippo", body, sig, "other"))
	require.False(t, Verify("shippo", body, "", secret))
	require.False(t, Verify("shippo", body, sig, ""))
	require.False(t, Verify("shipstation", body, "%%%not-base64", secret))
}

func TestFromHeaders_Priority(t *testing.T) {
	h := http.Header{}
	require.Empty(t, FromHeaders(h))

	h.Set("X-Signature", "low")
	h.Set("X-Hmac-Signature", "mid")
	require.Equal(t, "mid", FromHeaders(h))

	h.Set("X-ShipStation-Hmac-Sha256", "top")
	require.Equal(t, "top", FromHeaders(h))
}
