package normalize

import (
	"encoding/json"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// flexTime accepts RFC3339-ish strings and unix seconds/milliseconds.
// Unparseable values leave it zero instead of failing the whole payload.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		if n > 1e12 {
			t.Time = time.UnixMilli(int64(n)).UTC()
		} else if n > 0 {
			t.Time = time.Unix(int64(n), 0).UTC()
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Time, _ = parseTime(s)
	}
	return nil
}

func (t flexTime) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range timeLayouts {
		if ts, err := time.Parse(l, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
