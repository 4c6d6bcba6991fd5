// Package normalize maps vendor webhook payloads onto NormalizedTrackingEvent.
//
// Every vendor is a pure function over the raw JSON body plus a native → canonical
// status table. The registry is built once and is safe for concurrent use.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/pkg/errors"
)

const GenericCode = "generic"

var ErrMalformed = errors.New("malformed json payload")

type normalizeFunc func(raw []byte, mapStatus func(native string) string) *models.NormalizedTrackingEvent

type vendor struct {
	normalize normalizeFunc
	statuses  map[string]string
}

type Registry struct {
	vendors map[string]vendor
	now     func() time.Time
}

func Default() *Registry {
	return newRegistry(func() time.Time { return time.Now().UTC() })
}

func newRegistry(now func() time.Time) *Registry {
	return &Registry{
		vendors: map[string]vendor{
			"shipstation": {normalize: normalizeShipStation, statuses: shipStationStatuses},
			"shippo":      {normalize: normalizeShippo, statuses: shippoStatuses},
			"easypost":    {normalize: normalizeEasyPost, statuses: easyPostStatuses},
			"tracktry":    {normalize: normalizeTracktry, statuses: tracktryStatuses},
			"17track":     {normalize: normalize17Track, statuses: seventeenTrackStatuses},
			GenericCode:   {normalize: normalizeGeneric, statuses: genericStatuses},
		},
		now: now,
	}
}

// Codes returns the registered carrier codes, sorted.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.vendors))
	for c := range r.vendors {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// IsRegistered reports whether carrierCode has its own normalizer
// (otherwise the generic one is used).
func (r *Registry) IsRegistered(carrierCode string) bool {
	_, ok := r.vendors[strings.ToLower(carrierCode)]
	return ok
}

func (r *Registry) lookup(carrierCode string) vendor {
	if v, ok := r.vendors[strings.ToLower(carrierCode)]; ok {
		return v
	}
	return r.vendors[GenericCode]
}

// MapStatus maps a native status to the canonical vocabulary. The second return
// value is false when the table has no entry and the lowercased literal is used.
func (r *Registry) MapStatus(carrierCode, native string) (string, bool) {
	v := r.lookup(carrierCode)
	if s, ok := v.statuses[strings.ToLower(strings.TrimSpace(native))]; ok {
		return s, true
	}
	return models.FallbackStatus(native), false
}

// Normalize returns nil, nil when the payload is valid JSON but not a trackable
// event for the vendor.
func (r *Registry) Normalize(carrierCode string, raw []byte) (*models.NormalizedTrackingEvent, error) {
	if !json.Valid(raw) {
		return nil, ErrMalformed
	}
	v := r.lookup(carrierCode)
	ev := v.normalize(raw, func(native string) string {
		s, _ := r.MapStatus(carrierCode, native)
		return s
	})
	if ev == nil {
		return nil, nil
	}
	ev.TrackingNumber = strings.TrimSpace(ev.TrackingNumber)
	if ev.TrackingNumber == "" || ev.CanonicalStatus == "" {
		return nil, nil
	}

	sum := sha256.Sum256(raw)
	ev.PayloadDigest = hex.EncodeToString(sum[:8])
	if ev.EventTimestamp.IsZero() {
		ev.HasTimestamp = false
		ev.EventTimestamp = r.now()
	} else {
		ev.HasTimestamp = true
		ev.EventTimestamp = ev.EventTimestamp.UTC()
	}
	return ev, nil
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func joinLocation(parts ...string) *string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strPtr(strings.Join(nonEmpty, ", "))
}
