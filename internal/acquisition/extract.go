package acquisition

import (
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Links returns every href found on an <a> tag, resolved relative to base is
// the caller's responsibility (net/url.ResolveReference at the call site).
func Links(doc *html.Node) []string {
	var out []string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		if href := attr(n, "href"); href != "" {
			out = append(out, href)
		}
	})
	return out
}

// Forms describes one <form> element's action, method and whether it has a
// password field (a login/auth signal).
type Form struct {
	Action         string
	Method         string
	HasPassword    bool
	SubmitLabel    string
}

// Forms returns every form on the page.
func Forms(doc *html.Node) []Form {
	var out []Form
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "form" {
			return
		}
		f := Form{Action: attr(n, "action"), Method: strings.ToUpper(attr(n, "method"))}
		if f.Method == "" {
			f.Method = "GET"
		}
		walk(n, func(c *html.Node) {
			if c.Type != html.ElementNode {
				return
			}
			if c.Data == "input" && strings.EqualFold(attr(c, "type"), "password") {
				f.HasPassword = true
			}
			if (c.Data == "button" || (c.Data == "input" && strings.EqualFold(attr(c, "type"), "submit"))) && f.SubmitLabel == "" {
				f.SubmitLabel = strings.TrimSpace(textContent(c))
				if f.SubmitLabel == "" {
					f.SubmitLabel = attr(c, "value")
				}
			}
		})
		out = append(out, f)
	})
	return out
}

// JSONLDObjects returns the parsed contents of every <script
// type="application/ld+json"> block that decodes successfully. A block
// containing an array is flattened into its elements.
func JSONLDObjects(doc *html.Node) []map[string]any {
	var out []map[string]any
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "script" {
			return
		}
		if !strings.EqualFold(attr(n, "type"), "application/ld+json") {
			return
		}
		raw := textContent(n)
		var single map[string]any
		if err := json.Unmarshal([]byte(raw), &single); err == nil {
			out = append(out, single)
			return
		}
		var arr []map[string]any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			out = append(out, arr...)
		}
	})
	return out
}

// OpenGraphTags returns every <meta property="og:..."> tag as a flat map
// keyed by the property name without the "og:" prefix.
func OpenGraphTags(doc *html.Node) map[string]string {
	out := map[string]string{}
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "meta" {
			return
		}
		prop := attr(n, "property")
		if !strings.HasPrefix(prop, "og:") {
			return
		}
		out[strings.TrimPrefix(prop, "og:")] = attr(n, "content")
	})
	return out
}

// StructuredFields is the typed subset of JSON-LD/OpenGraph data the
// FeatureEncoder cares about, merged from whichever source supplied it
// first (Fetch merges JSON-LD before OpenGraph). Microdata is not parsed.
type StructuredFields struct {
	HasPrice         bool
	Price            float64
	HasOriginalPrice bool
	OriginalPrice    float64
	HasAvailability  bool
	AvailabilityText string
	HasRating        bool
	Rating           float64
	HasReviewCount   bool
	ReviewCount      int
}

// MergeJSONLD folds typed commerce fields out of a JSON-LD Product/Offer
// object into fields, preferring values already set.
func (fields *StructuredFields) MergeJSONLD(obj map[string]any) {
	offer, _ := obj["offers"].(map[string]any)
	if offer == nil {
		offer = obj
	}
	if !fields.HasPrice {
		if p, ok := numericField(offer, "price"); ok {
			fields.HasPrice = true
			fields.Price = p
		}
	}
	if !fields.HasAvailability {
		if a, ok := offer["availability"].(string); ok {
			fields.HasAvailability = true
			fields.AvailabilityText = a
		}
	}
	if agg, ok := obj["aggregateRating"].(map[string]any); ok {
		if !fields.HasRating {
			if r, ok := numericField(agg, "ratingValue"); ok {
				fields.HasRating = true
				fields.Rating = r
			}
		}
		if !fields.HasReviewCount {
			if c, ok := numericField(agg, "reviewCount"); ok {
				fields.HasReviewCount = true
				fields.ReviewCount = int(c)
			}
		}
	}
}

// MergeOpenGraph folds og:price:amount style tags into fields.
func (fields *StructuredFields) MergeOpenGraph(tags map[string]string) {
	if !fields.HasPrice {
		if v, ok := tags["price:amount"]; ok {
			if p, err := strconv.ParseFloat(v, 64); err == nil {
				fields.HasPrice = true
				fields.Price = p
			}
		}
	}
}

func numericField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return sb.String()
}
