// Package signature checks vendor webhook HMAC signatures over the raw body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

// HeaderNames in lookup priority order.
var HeaderNames = []string{
	"X-ShipStation-Hmac-Sha256",
	"X-Shippo-Signature",
	"X-Hmac-Signature",
	"X-Webhook-Signature",
	"X-Signature",
}

const easyPostPrefix = "hmac-sha256-hex="

// FromHeaders returns the first non-empty signature header.
func FromHeaders(h http.Header) string {
	for _, name := range HeaderNames {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// Verify checks header against the vendor scheme for carrierCode.
// An empty header or secret never verifies.
func Verify(carrierCode string, body []byte, header, secret string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	switch strings.ToLower(carrierCode) {
	case "shipstation":
		got, err := base64.StdEncoding.DecodeString(header)
		if err != nil {
			return false
		}
		return hmac.Equal(got, sum)
	case "shippo":
		return equalHex(header, sum)
	case "easypost":
		if !strings.HasPrefix(header, easyPostPrefix) {
			return false
		}
		return equalHex(strings.TrimPrefix(header, easyPostPrefix), sum)
	default:
		return equalHex(strings.TrimPrefix(header, "sha256="), sum)
	}
}

// Sign produces the header value Verify accepts for carrierCode.
func Sign(carrierCode string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	switch strings.ToLower(carrierCode) {
	case "shipstation":
		return base64.StdEncoding.EncodeToString(sum)
	case "easypost":
		return easyPostPrefix + hex.EncodeToString(sum)
	default:
		return hex.EncodeToString(sum)
	}
}

func equalHex(s string, sum []byte) bool {
	got, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return false
	}
	return hmac.Equal(got, sum)
}
