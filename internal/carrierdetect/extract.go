package carrierdetect

import (
	"regexp"
	"strings"
)

type Candidate struct {
	TrackingNumber string     `json:"trackingNumber"`
	Carrier        *Detection `json:"carrier,omitempty"`
}

var tokenRe = regexp.MustCompile(`\b[0-9A-Z]{9,34}\b`)

const minCandidateDigits = 8

// ExtractAll scans free text for tracking-number-like tokens. Every distinct token
// is returned once, in order of first appearance, with its best-guess carrier.
func ExtractAll(text string) []Candidate {
	upper := strings.ToUpper(text)
	var out []Candidate
	seen := make(map[string]struct{})
	for _, tok := range tokenRe.FindAllString(upper, -1) {
		if countDigits(tok) < minCandidateDigits {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, Candidate{TrackingNumber: tok, Carrier: Detect(tok)})
	}
	return out
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
