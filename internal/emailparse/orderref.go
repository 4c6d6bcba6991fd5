package emailparse

import (
	"regexp"
	"strings"
)

type orderPattern struct {
	re     *regexp.Regexp
	minLen int
}

var orderPatterns = []orderPattern{
	{re: regexp.MustCompile(`(?i)\border\s*#\s*([A-Z0-9][A-Z0-9-]*)`), minLen: 1},
	{re: regexp.MustCompile(`(?i)\border\s+(?:number|no\.?)\s*[:#]?\s*([A-Z0-9][A-Z0-9-]*)`), minLen: 1},
	{re: regexp.MustCompile(`(?i)\breference(?:\s+(?:number|no\.?))?\s*[:#]\s*([A-Z0-9][A-Z0-9-]*)`), minLen: 1},
	{re: regexp.MustCompile(`(?i)\bconfirmation(?:\s+(?:number|no\.?))?\s*[:#]\s*([A-Z0-9][A-Z0-9-]*)`), minLen: 1},
	{re: regexp.MustCompile(`(?i)#([A-Z0-9][A-Z0-9-]*)`), minLen: 4},
}

// ExtractOrderReferences returns upper-cased, de-duplicated order references.
// A reference must contain at least one digit.
func ExtractOrderReferences(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, p := range orderPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			ref := strings.ToUpper(strings.TrimRight(m[1], "-"))
			if len(ref) < p.minLen || !strings.ContainsAny(ref, "0123456789") {
				continue
			}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}
