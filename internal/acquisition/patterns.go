package acquisition

import (
	"regexp"
	"strconv"

	"golang.org/x/net/html"
)

// SitePattern is one compiled archetype: a domain-keyed catalog entry
// describing where to find commerce fields on sites that don't expose them
// via JSON-LD/OpenGraph, via either a CSS selector-equivalent tag/class walk
// or a raw regex over the HTML.
type SitePattern struct {
	Host          string
	PriceSelector TagClassSelector
	RatingRegex   *regexp.Regexp
}

// TagClassSelector is a minimal CSS-selector stand-in: match an element by
// tag name and a required class token (one whitespace-separated entry of the
// class attribute, compared exactly).
type TagClassSelector struct {
	Tag   string
	Class string
}

// CoverageThreshold is the L1 coverage below which L1.5 pattern matching
// runs for a URL.
const CoverageThreshold = 0.5

// DefaultPatterns is the compiled catalog of site archetypes patterned on
// common storefront markup conventions.
var DefaultPatterns = []SitePattern{
	{
		Host:          "www.etsy.com",
		PriceSelector: TagClassSelector{Tag: "p", Class: "currency-value"},
	},
	{
		Host:          "www.ebay.com",
		PriceSelector: TagClassSelector{Tag: "span", Class: "ux-textspans"},
	},
}

// ApplyPatterns looks up a catalog entry for host and, if present, attempts
// to fill in fields.Price from the matched selector. Returns true if it
// matched anything.
func ApplyPatterns(doc *html.Node, host string, fields *StructuredFields) bool {
	var pattern *SitePattern
	for i := range DefaultPatterns {
		if DefaultPatterns[i].Host == host {
			pattern = &DefaultPatterns[i]
			break
		}
	}
	if pattern == nil {
		return false
	}

	matched := false
	walk(doc, func(n *html.Node) {
		if fields.HasPrice || n.Type != html.ElementNode || n.Data != pattern.PriceSelector.Tag {
			return
		}
		class := attr(n, "class")
		if pattern.PriceSelector.Class == "" || containsToken(class, pattern.PriceSelector.Class) {
			if v, ok := parsePriceText(textContent(n)); ok {
				fields.HasPrice = true
				fields.Price = v
				matched = true
			}
		}
	})
	return matched
}

func containsToken(classAttr, token string) bool {
	for _, c := range splitFields(classAttr) {
		if c == token {
			return true
		}
	}
	return false
}

func splitFields(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

var priceTextRe = regexp.MustCompile(`[-+]?[0-9]*\.?[0-9]+`)

func parsePriceText(text string) (float64, bool) {
	match := priceTextRe.FindString(text)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
