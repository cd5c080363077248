// Package features implements the FeatureEncoder component: translating a
// page's extracted structured data into the fixed 128-dim vector the
// sitemap package's CSR graph stores per node.
package features

import (
	"hash/fnv"
	"math"
	"net/url"
	"strings"

	"cortex/internal/sitemap"
)

// Availability enumerates the coarse stock states OpenGraph/JSON-LD
// `availability` fields collapse into.
type Availability float32

const (
	AvailabilityOutOfStock Availability = 0.0
	AvailabilityLimited    Availability = 0.5
	AvailabilityInStock    Availability = 1.0
)

// numStructuralTokenSlots is how many of dims 0-47 are devoted to
// path-token hashes; the remainder carry presence bits and counters.
const numStructuralTokenSlots = 32

// WorkingSet is the per-URL accumulator L0-L2.5 fill in as they discover
// fields; Encode reads it once the layer pipeline is done with a URL.
type WorkingSet struct {
	URL          string
	Depth        int
	InboundCount int

	HasPrice   bool
	Price      float64
	HasOriginalPrice bool
	OriginalPrice    float64
	HasDiscount      bool
	Discount         float64
	HasAvailability  bool
	Availability     Availability
	HasRating        bool
	Rating           float64
	HasReviewCount   bool
	ReviewCount      int

	HasForm  bool
	HasMedia bool
	HasJSONLD bool
	HasOpenGraph bool
	HasMicrodata bool
}

// Encode produces a fully L2-renormalized 128-dim vector from ws, along
// with the recorded norm (sitemap.Node.FeatureNorm).
func Encode(ws WorkingSet) (vector []float32, norm float32) {
	v := make([]float32, sitemap.FeatureDim)

	tokens := pathTokens(ws.URL)
	for i := 0; i < numStructuralTokenSlots; i++ {
		if i < len(tokens) {
			v[i] = tokenHash(tokens[i])
		}
	}

	v[numStructuralTokenSlots+0] = boolFeature(true) // reserved: node is present/visited
	v[numStructuralTokenSlots+1] = clamp01(float32(ws.Depth) / 10.0)
	v[numStructuralTokenSlots+2] = clamp01(float32(ws.InboundCount) / 50.0)
	v[numStructuralTokenSlots+3] = boolFeature(ws.HasForm)
	v[numStructuralTokenSlots+4] = boolFeature(ws.HasMedia)
	v[numStructuralTokenSlots+5] = boolFeature(ws.HasJSONLD)
	v[numStructuralTokenSlots+6] = boolFeature(ws.HasOpenGraph)
	v[numStructuralTokenSlots+7] = boolFeature(ws.HasMicrodata)

	if ws.HasPrice {
		v[sitemap.DimPrice] = float32(math.Abs(ws.Price))
	}
	if ws.HasOriginalPrice {
		v[sitemap.DimOriginalPrice] = float32(math.Abs(ws.OriginalPrice))
	}
	if ws.HasDiscount {
		v[sitemap.DimDiscount] = float32(math.Abs(ws.Discount))
	}
	if ws.HasAvailability {
		v[sitemap.DimAvailability] = float32(ws.Availability)
	}
	if ws.HasRating {
		r := ws.Rating
		if r < 0 {
			r = 0
		}
		if r > 5 {
			r = 5
		}
		v[sitemap.DimRating] = float32(r)
	}
	if ws.HasReviewCount {
		v[sitemap.DimReviewCount] = float32(ws.ReviewCount)
	}

	norm = l2Norm(v)
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
	return v, norm
}

// pathTokens splits a URL path into non-empty lowercase segments.
func pathTokens(raw string) []string {
	u, err := url.Parse(raw)
	path := raw
	if err == nil {
		path = u.Path
	}
	var tokens []string
	for _, seg := range strings.Split(path, "/") {
		seg = strings.ToLower(strings.TrimSpace(seg))
		if seg != "" {
			tokens = append(tokens, seg)
		}
	}
	return tokens
}

// tokenHash folds a path segment to a small signed float in [-1, 1] via
// FNV-1a, giving structurally similar URLs (same token) identical feature
// contributions without needing a vocabulary.
func tokenHash(token string) float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	return (float32(sum%2000) - 1000) / 1000.0
}

func boolFeature(b bool) float32 {
	if b {
		return 1.0
	}
	return 0.0
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func l2Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
