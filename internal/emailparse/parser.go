// Package emailparse extracts tracking numbers and order references from
// shipping notification emails and scores how much to trust the result.
package emailparse

import (
	"regexp"
	"strings"

	"github.com/BearBump/TrackHub/internal/carrierdetect"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c is the same or stronger than min.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.rank() >= min.rank()
}

// ParseConfidence accepts "high", "medium" or "low"; anything else yields def.
func ParseConfidence(s string, def Confidence) Confidence {
	c := Confidence(strings.ToLower(strings.TrimSpace(s)))
	if c.rank() == 0 {
		return def
	}
	return c
}

type Result struct {
	IsShipping      bool                      `json:"isShipping"`
	TrackingNumbers []carrierdetect.Candidate `json:"trackingNumbers"`
	OrderReferences []string                  `json:"orderReferences"`
	Confidence      Confidence                `json:"confidence"`
	Score           int                       `json:"score"`
}

var carrierSenderRe = regexp.MustCompile(`@([a-z0-9-]+\.)*(ups|fedex|usps|dhl|ontrac|lasership|amazon)\.com$`)

var senderPatterns = []*regexp.Regexp{
	carrierSenderRe,
	regexp.MustCompile(`(shipstation|shippo|easypost|aftership|narvar|route)`),
	regexp.MustCompile(`^(tracking|shipping|shipment|shipments|delivery|dispatch)@`),
	regexp.MustCompile(`^(no-?reply|notifications?)@.*(ship|track|deliver)`),
}

var subjectKeywords = []string{"shipped", "tracking", "delivery", "shipment", "delivered", "on its way", "in transit"}

const maxPlausibleTrackingNumbers = 5

// IsShippingEmail is a heuristic: sender looks like a shipping vendor or the
// subject mentions shipping.
func IsShippingEmail(sender, subject string) bool {
	return senderMatches(sender) || subjectMatches(subject)
}

// SenderCarrier returns the carrier code when the mail comes straight from a
// carrier domain, or "".
func SenderCarrier(sender string) string {
	m := carrierSenderRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(sender)))
	if m == nil {
		return ""
	}
	return m[2]
}

func senderMatches(sender string) bool {
	s := strings.ToLower(strings.TrimSpace(sender))
	if s == "" {
		return false
	}
	for _, re := range senderPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func subjectMatches(subject string) bool {
	s := strings.ToLower(subject)
	for _, kw := range subjectKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Parse strips the body, extracts tracking numbers and order references and
// scores the message.
func Parse(sender, subject, body string) Result {
	text := StripHTML(body)

	// Кандидаты без перевозчика тоже считаются в оценке: решает ingest.
	tracking := carrierdetect.ExtractAll(subject + "\n" + text)

	res := Result{
		IsShipping:      IsShippingEmail(sender, subject),
		TrackingNumbers: tracking,
		OrderReferences: ExtractOrderReferences(subject + "\n" + text),
	}

	score := 0
	if senderMatches(sender) {
		score += 3
	}
	if subjectMatches(subject) {
		score += 2
	}
	if len(tracking) >= 1 {
		score += 2
	}
	if len(tracking) > maxPlausibleTrackingNumbers {
		score--
	}
	res.Score = score
	switch {
	case score >= 5:
		res.Confidence = ConfidenceHigh
	case score >= 2:
		res.Confidence = ConfidenceMedium
	default:
		res.Confidence = ConfidenceLow
	}
	return res
}
