package assembler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"cortex/internal/acquisition"
	"cortex/internal/cerr"
	"cortex/internal/eventbus"
	"cortex/internal/features"
	"cortex/internal/sitemap"
)

// Budget bounds one mapping run.
type Budget struct {
	MaxPages       int
	MaxDepth       int
	MaxRender      int // how many URLs get the full L1 treatment
	TotalTimeLimit time.Duration
	RequestTimeout time.Duration
	RenderTimeout  time.Duration
	UserAgent      string
	RespectRobots  bool
}

// Assembler runs the layer pipeline for one domain under a Budget.
type Assembler struct {
	client  *http.Client
	browser acquisition.Browser
	bus     *eventbus.Bus
	apis    []acquisition.APITemplate
}

// New creates an Assembler. browser may be acquisition.NoopBrowser{} when no
// headless Chromium is configured; bus may be nil to disable event emission.
func New(client *http.Client, browser acquisition.Browser, bus *eventbus.Bus) *Assembler {
	if client == nil {
		client = http.DefaultClient
	}
	if browser == nil {
		browser = acquisition.NoopBrowser{}
	}
	return &Assembler{client: client, browser: browser, bus: bus, apis: acquisition.DefaultAPITemplates}
}

func (a *Assembler) emit(e eventbus.Event) {
	if a.bus != nil {
		e.Timestamp = time.Now().UTC()
		a.bus.Emit(e)
	}
}

// Map runs L0-L3 for domain (given as an origin URL, e.g. "https://shop.test")
// and returns the assembled SiteMap.
func (a *Assembler) Map(ctx context.Context, domain string, budget Budget) (*sitemap.SiteMap, error) {
	origin, err := url.Parse(domain)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("%w: invalid domain URL %q", cerr.ErrDomainNotMapped, domain)
	}

	if budget.TotalTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget.TotalTimeLimit)
		defer cancel()
	}

	a.emit(eventbus.Event{Kind: eventbus.KindMapStarted, Domain: origin.Host})

	if err := acquisition.ReachOrigin(ctx, a.client, origin, budget.UserAgent); err != nil {
		a.emit(eventbus.Event{Kind: eventbus.KindMapFailed, Domain: origin.Host, Error: err.Error()})
		return nil, err
	}

	candidates, err := a.runL0(ctx, origin, budget)
	if err != nil {
		a.emit(eventbus.Event{Kind: eventbus.KindMapFailed, Domain: origin.Host, Error: err.Error()})
		return nil, err
	}
	a.emit(eventbus.Event{Kind: eventbus.KindLayerComplete, Domain: origin.Host, Layer: "L0", NodesSoFar: len(candidates)})

	builder := sitemap.NewBuilder(origin.Host)
	for _, c := range candidates {
		ws := features.WorkingSet{URL: c.URL, Depth: c.Depth, InboundCount: c.InboundCount}
		vec, _ := features.Encode(ws)
		builder.AddNode(c.URL, sitemap.Node{
			PageType:   c.PageType,
			Confidence: uint8(c.Confidence * 255),
			Depth:      uint16(c.Depth),
			HTTPStatus: uint16(c.StatusCode),
		}, vec)
	}

	sampleURLs := SelectSamples(candidates, budget.MaxRender)
	a.runL1(ctx, origin, budget, builder, sampleURLs)
	a.emit(eventbus.Event{Kind: eventbus.KindLayerComplete, Domain: origin.Host, Layer: "L1", NodesSoFar: len(sampleURLs)})

	a.runL2(ctx, origin, budget, builder, sampleURLs)
	a.emit(eventbus.Event{Kind: eventbus.KindLayerComplete, Domain: origin.Host, Layer: "L2"})

	a.runL25(ctx, budget, builder, sampleURLs)
	a.emit(eventbus.Event{Kind: eventbus.KindLayerComplete, Domain: origin.Host, Layer: "L2.5"})

	if err := a.runL3(ctx, budget, builder, sampleURLs); err != nil {
		log.Warn().Err(err).Str("domain", origin.Host).Msg("L3 skipped")
		a.emit(eventbus.Event{Kind: eventbus.KindLayerComplete, Domain: origin.Host, Layer: "L3", Error: err.Error()})
	} else {
		a.emit(eventbus.Event{Kind: eventbus.KindLayerComplete, Domain: origin.Host, Layer: "L3"})
	}

	result := builder.Build()
	a.emit(eventbus.Event{Kind: eventbus.KindMapComplete, Domain: origin.Host, NodesSoFar: result.NodeCount()})
	return result, nil
}

func (a *Assembler) runL0(ctx context.Context, origin *url.URL, budget Budget) ([]CandidateURL, error) {
	var robots acquisition.RobotsRules
	var err error
	if budget.RespectRobots {
		robots, err = acquisition.FetchRobots(ctx, a.client, origin, budget.UserAgent)
		if err != nil {
			return nil, err
		}
	}

	seedURLs := []string{origin.String()}
	for _, sm := range robots.Sitemaps {
		urls, err := acquisition.FetchSitemap(ctx, a.client, sm, budget.MaxPages, 3)
		if err != nil {
			continue
		}
		seedURLs = append(seedURLs, urls...)
	}

	home, err := acquisition.Fetch(ctx, a.client, origin.String(), budget.UserAgent)
	if err == nil && home.Doc != nil {
		for _, link := range home.Links {
			resolved := resolveLink(origin, link)
			if resolved != "" {
				seedURLs = append(seedURLs, resolved)
			}
		}
	}

	seedURLs = dedupeStrings(seedURLs)
	if len(seedURLs) > budget.MaxPages && budget.MaxPages > 0 {
		seedURLs = seedURLs[:budget.MaxPages]
	}

	progressEvery := 500
	results := acquisition.HeadScan(ctx, a.client, seedURLs, progressEvery, func(done, total int) {
		a.emit(eventbus.Event{Kind: eventbus.KindHeadScanProgress, Domain: origin.Host, NodesSoFar: done, NodesTotal: total})
	})

	candidates := make([]CandidateURL, 0, len(results))
	inbound := map[string]int{}
	if home != nil {
		for _, link := range home.Links {
			if resolved := resolveLink(origin, link); resolved != "" {
				inbound[resolved]++
			}
		}
	}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if budget.RespectRobots {
			if u, err := url.Parse(r.URL); err == nil && !robots.Allows(u.Path) {
				continue
			}
		}
		candidates = append(candidates, CandidateURL{
			URL:          r.URL,
			PageType:     classifyPageType(r.URL),
			Confidence:   0.3,
			InboundCount: inbound[r.URL],
			Depth:        pathDepth(r.URL),
			StatusCode:   r.StatusCode,
		})
	}
	return candidates, nil
}

func (a *Assembler) runL1(ctx context.Context, origin *url.URL, budget Budget, builder *sitemap.Builder, sampleURLs []string) {
	for _, u := range sampleURLs {
		res, err := acquisition.Fetch(ctx, a.client, u, budget.UserAgent)
		if err != nil {
			continue
		}
		ws := res.ToWorkingSet()
		if idx, ok := builder.Index(u); ok {
			ws.Depth = pathDepth(u)
			vec, _ := features.Encode(ws)
			for d := 0; d < sitemap.FeatureDim; d++ {
				builder.UpdateFeature(idx, d, vec[d])
			}
			if res.Forms != nil {
				builder.MergeFlags(idx, sitemap.FlagHasForm)
			}
			if res.Coverage < acquisition.CoverageThreshold {
				doc := res.Doc
				if doc != nil {
					var fields acquisition.StructuredFields
					if acquisition.ApplyPatterns(doc, origin.Host, &fields) {
						if fields.HasPrice {
							builder.UpdateFeature(idx, sitemap.DimPrice, float32(fields.Price))
						}
					}
				}
			}
		}
		a.emit(eventbus.Event{Kind: eventbus.KindStructuredDataExtracted, Domain: origin.Host, URL: u})
	}
}

func (a *Assembler) runL2(ctx context.Context, origin *url.URL, budget Budget, builder *sitemap.Builder, sampleURLs []string) {
	for _, u := range sampleURLs {
		resolved, ok := acquisition.ResolveAPIURL(u, a.apis)
		if !ok {
			continue
		}
		var fields acquisition.StructuredFields
		if _, err := acquisition.FetchAPI(ctx, a.client, resolved, &fields); err != nil {
			continue
		}
		if idx, ok := builder.Index(u); ok && fields.HasPrice {
			builder.UpdateFeature(idx, sitemap.DimPrice, float32(fields.Price))
		}
	}
}

func (a *Assembler) runL25(ctx context.Context, budget Budget, builder *sitemap.Builder, sampleURLs []string) {
	for _, u := range sampleURLs {
		res, err := acquisition.Fetch(ctx, a.client, u, budget.UserAgent)
		if err != nil {
			continue
		}
		idx, ok := builder.Index(u)
		if !ok {
			continue
		}
		for _, da := range acquisition.ActionsFromForms(res.Forms) {
			builder.AddAction(idx, da.Opcode, -2, da.CostHint, da.Risk, da.HTTPExecutable)
		}
		scripts := acquisition.ExtractScriptURLs(res.RawHTML, u)
		for _, da := range acquisition.DiscoverEndpointsFromJS(ctx, a.client, scripts) {
			builder.AddAction(idx, da.Opcode, -2, da.CostHint, da.Risk, da.HTTPExecutable)
		}
	}
}

func (a *Assembler) runL3(ctx context.Context, budget Budget, builder *sitemap.Builder, sampleURLs []string) error {
	_, err := a.browser.Navigate(ctx, "about:blank", budget.RenderTimeout)
	if err != nil {
		return err
	}
	defer a.browser.Close()

	for _, u := range sampleURLs {
		navResult, err := a.browser.Navigate(ctx, u, budget.RenderTimeout)
		if err != nil {
			continue
		}
		htmlContent, err := a.browser.GetHTML(ctx)
		if err != nil {
			continue
		}
		idx, ok := builder.Index(u)
		if !ok {
			continue
		}
		_ = navResult
		_ = htmlContent
		builder.SetRendered(idx, builderFeatureRow(builder, idx))
	}
	return nil
}

func builderFeatureRow(b *sitemap.Builder, idx int) []float32 {
	row := make([]float32, sitemap.FeatureDim)
	for d := 0; d < sitemap.FeatureDim; d++ {
		row[d] = b.Feature(idx, d)
	}
	return row
}

func classifyPageType(rawURL string) sitemap.PageType {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.HasSuffix(lower, "/") && strings.Count(lower, "/") <= 3:
		return sitemap.PageHome
	case strings.Contains(lower, "/cart"):
		return sitemap.PageCart
	case strings.Contains(lower, "/checkout"):
		return sitemap.PageCheckout
	case strings.Contains(lower, "/login") || strings.Contains(lower, "/signin"):
		return sitemap.PageLogin
	case strings.Contains(lower, "/product/") || strings.Contains(lower, "/p/") || strings.Contains(lower, "/item"):
		return sitemap.PageProductDetail
	case strings.Contains(lower, "/category") || strings.Contains(lower, "/shop") || strings.Contains(lower, "/products"):
		return sitemap.PageProductListing
	case strings.Contains(lower, "/search"):
		return sitemap.PageSearchResults
	case strings.Contains(lower, "/account") || strings.Contains(lower, "/profile"):
		return sitemap.PageAccount
	case strings.Contains(lower, "/docs") || strings.Contains(lower, "/documentation"):
		return sitemap.PageDocumentation
	case strings.Contains(lower, "/about"):
		return sitemap.PageAboutPage
	case strings.Contains(lower, "/contact"):
		return sitemap.PageContactPage
	case strings.Contains(lower, "/faq"):
		return sitemap.PageFaq
	case strings.Contains(lower, "/pricing"):
		return sitemap.PagePricingPage
	case strings.Contains(lower, "/blog") || strings.Contains(lower, "/article") || strings.Contains(lower, "/news"):
		return sitemap.PageArticle
	default:
		return sitemap.PageUnknown
	}
}

func pathDepth(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	depth := 0
	for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

func resolveLink(origin *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := origin.ResolveReference(ref)
	if resolved.Host != origin.Host {
		return "" // same-origin only, cross-site links are out of scope for this map
	}
	resolved.Fragment = ""
	return resolved.String()
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
