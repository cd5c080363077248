package acquisition

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"cortex/internal/features"
)

// FetchResult is one URL's L1 outcome: the raw body plus everything
// extract.go could pull from it.
type FetchResult struct {
	URL          string
	FinalURL     string
	StatusCode   int
	RawHTML      string
	Doc          *html.Node
	JSONLD       []map[string]any
	OpenGraph    map[string]string
	Forms        []Form
	Links        []string
	Fields       StructuredFields
	Coverage     float64 // fraction of expected commerce fields populated
	ReadableText string  // go-readability fallback body, filled lazily by FillReadable
}

// expectedFieldCount is the denominator for Coverage: price, availability,
// rating, review count.
const expectedFieldCount = 4

// Fetch performs the L1 GET + structured-data extraction for one URL.
func Fetch(ctx context.Context, client *http.Client, rawURL, userAgent string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("reading body of %s: %w", rawURL, err)
	}

	result := &FetchResult{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		RawHTML:    string(body),
	}
	if resp.StatusCode >= 300 {
		return result, nil // per-URL non-200s are recorded, not fatal
	}

	doc, err := html.Parse(strings.NewReader(result.RawHTML))
	if err != nil {
		return result, nil // unparseable HTML degrades, doesn't fail the layer
	}
	result.Doc = doc
	result.JSONLD = JSONLDObjects(doc)
	result.OpenGraph = OpenGraphTags(doc)
	result.Forms = Forms(doc)
	result.Links = Links(doc)

	for _, obj := range result.JSONLD {
		result.Fields.MergeJSONLD(obj)
	}
	result.Fields.MergeOpenGraph(result.OpenGraph)
	result.Coverage = coverage(result.Fields)

	return result, nil
}

func coverage(f StructuredFields) float64 {
	n := 0
	if f.HasPrice {
		n++
	}
	if f.HasAvailability {
		n++
	}
	if f.HasRating {
		n++
	}
	if f.HasReviewCount {
		n++
	}
	return float64(n) / float64(expectedFieldCount)
}

// FillReadable runs go-readability over the raw HTML as a fallback body for
// FeatureEncoder/content consumers when structured data coverage is low but
// the page still has real prose (articles, docs).
func (r *FetchResult) FillReadable(pageURL string) error {
	u, err := url.Parse(pageURL)
	if err != nil {
		return err
	}
	article, err := readability.FromReader(strings.NewReader(r.RawHTML), u)
	if err != nil {
		return err
	}
	r.ReadableText = article.TextContent
	return nil
}

// ToWorkingSet seeds a features.WorkingSet from the fetch result; callers
// layer in depth/inbound count from the graph builder afterward.
func (r *FetchResult) ToWorkingSet() features.WorkingSet {
	ws := features.WorkingSet{
		URL:          r.URL,
		HasJSONLD:    len(r.JSONLD) > 0,
		HasOpenGraph: len(r.OpenGraph) > 0,
		HasForm:      len(r.Forms) > 0,
	}
	if r.Fields.HasPrice {
		ws.HasPrice = true
		ws.Price = r.Fields.Price
	}
	if r.Fields.HasOriginalPrice {
		ws.HasOriginalPrice = true
		ws.OriginalPrice = r.Fields.OriginalPrice
	}
	if r.Fields.HasAvailability {
		ws.HasAvailability = true
		ws.Availability = classifyAvailability(r.Fields.AvailabilityText)
	}
	if r.Fields.HasRating {
		ws.HasRating = true
		ws.Rating = r.Fields.Rating
	}
	if r.Fields.HasReviewCount {
		ws.HasReviewCount = true
		ws.ReviewCount = r.Fields.ReviewCount
	}
	return ws
}

func classifyAvailability(text string) features.Availability {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "outofstock") || strings.Contains(t, "out of stock"):
		return features.AvailabilityOutOfStock
	case strings.Contains(t, "limitedavailability") || strings.Contains(t, "backorder") || strings.Contains(t, "preorder"):
		return features.AvailabilityLimited
	case strings.Contains(t, "instock") || strings.Contains(t, "in stock"):
		return features.AvailabilityInStock
	default:
		return features.AvailabilityLimited
	}
}

// DefaultHTTPClient returns a client with a sane timeout for L0/L1 requests.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
