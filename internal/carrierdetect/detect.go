// Package carrierdetect guesses the carrier of a tracking number by its shape.
package carrierdetect

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type Detection struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	TrackingURL string `json:"trackingUrl"`
}

type carrierInfo struct {
	code        string
	name        string
	urlTemplate string
}

var carriers = map[string]carrierInfo{
	"usps":      {"usps", "USPS", "https://tools.usps.com/go/TrackConfirmAction?tLabels=%s"},
	"ups":       {"ups", "UPS", "https://www.ups.com/track?tracknum=%s"},
	"fedex":     {"fedex", "FedEx", "https://www.fedex.com/fedextrack/?trknbr=%s"},
	"dhl":       {"dhl", "DHL", "https://www.dhl.com/en/express/tracking.html?AWB=%s"},
	"ontrac":    {"ontrac", "OnTrac", "https://www.ontrac.com/tracking/?number=%s"},
	"lasership": {"lasership", "LaserShip", "https://www.lasership.com/track/%s"},
	"amazon":    {"amazon", "Amazon Logistics", "https://track.amazon.com/tracking/%s"},
}

type pattern struct {
	carrier string
	re      *regexp.Regexp
	// mixed requires both letters and digits (the broad DHL family would
	// otherwise swallow plain words and long numbers).
	mixed bool
}

// Порядок важен: первый совпавший шаблон выигрывает.
var patterns = []pattern{
	{carrier: "ups", re: regexp.MustCompile(`^1Z[0-9A-Z]{16}$`)},
	{carrier: "amazon", re: regexp.MustCompile(`^TBA[0-9]{12}$`)},
	{carrier: "lasership", re: regexp.MustCompile(`^1LS[0-9A-Z]{7,20}$`)},
	{carrier: "lasership", re: regexp.MustCompile(`^LX[0-9]{8,10}$`)},
	{carrier: "ontrac", re: regexp.MustCompile(`^[CD][0-9]{14}$`)},
	{carrier: "fedex", re: regexp.MustCompile(`^(96|98)[0-9]{18,20}$`)},
	{carrier: "usps", re: regexp.MustCompile(`^[0-9]{20,22}$`)},
	{carrier: "usps", re: regexp.MustCompile(`^[A-Z]{2}[0-9]{9}[A-Z]{2}$`)},
	{carrier: "dhl", re: regexp.MustCompile(`^JD[0-9]{18}$`)},
	{carrier: "dhl", re: regexp.MustCompile(`^[0-9]{10}$`)},
	{carrier: "fedex", re: regexp.MustCompile(`^[0-9]{12}$`)},
	{carrier: "fedex", re: regexp.MustCompile(`^[0-9]{15}$`)},
	{carrier: "ups", re: regexp.MustCompile(`^T[0-9]{10}$`)},
	{carrier: "ups", re: regexp.MustCompile(`^[0-9]{9}$`)},
	{carrier: "dhl", re: regexp.MustCompile(`^[0-9A-Z]{16,24}$`), mixed: true},
}

var separators = strings.NewReplacer(" ", "", "-", "", "\t", "")

// Normalize upper-cases the number and drops spaces and dashes.
func Normalize(raw string) string {
	return strings.ToUpper(separators.Replace(strings.TrimSpace(raw)))
}

// Detect returns the first carrier whose pattern matches, or nil.
func Detect(raw string) *Detection {
	n := Normalize(raw)
	if n == "" {
		return nil
	}
	for _, p := range patterns {
		if !p.re.MatchString(n) {
			continue
		}
		if p.mixed && !(hasLetter(n) && hasDigit(n)) {
			continue
		}
		return build(p.carrier, n)
	}
	return nil
}

// Lookup returns carrier metadata for a known code without a tracking URL.
func Lookup(code string) *Detection {
	c, ok := carriers[strings.ToLower(code)]
	if !ok {
		return nil
	}
	return &Detection{Code: c.code, Name: c.name}
}

// URLTemplate returns the tracking URL template of a known carrier code,
// with a single %s for the tracking number.
func URLTemplate(code string) string {
	return carriers[strings.ToLower(code)].urlTemplate
}

func build(code, number string) *Detection {
	c := carriers[code]
	return &Detection{
		Code:        c.code,
		Name:        c.name,
		TrackingURL: fmt.Sprintf(c.urlTemplate, url.QueryEscape(number)),
	}
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
}
