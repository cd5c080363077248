// Package acquisition implements the AcquisitionLayers component: the
// strictly-ordered L0-L3 pipeline that turns a domain into candidate URLs
// with progressively richer structured data.
package acquisition

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"cortex/internal/cerr"
)

// RobotsRules is a parsed robots.txt: disallowed path prefixes for our user
// agent (or "*") and any sitemap URLs it points to.
type RobotsRules struct {
	Disallow []string
	Sitemaps []string
}

// Allows reports whether path is permitted by the parsed rules. An empty
// Disallow list (robots.txt absent, or present without disallow lines)
// allows everything.
func (r RobotsRules) Allows(path string) bool {
	for _, prefix := range r.Disallow {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// FetchRobots retrieves and parses /robots.txt for the origin. A missing or
// unreadable robots.txt is treated as "allow everything" per common crawler
// convention, not an error.
func FetchRobots(ctx context.Context, client *http.Client, origin *url.URL, userAgent string) (RobotsRules, error) {
	robotsURL := *origin
	robotsURL.Path = "/robots.txt"
	robotsURL.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return RobotsRules{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", robotsURL.String()).Msg("robots.txt unreachable, allowing all")
		return RobotsRules{}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RobotsRules{}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RobotsRules{}, nil
	}
	return parseRobots(string(body), userAgent), nil
}

func parseRobots(body, userAgent string) RobotsRules {
	var rules RobotsRules
	relevant := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch key {
		case "user-agent":
			relevant = val == "*" || strings.EqualFold(val, userAgent)
		case "disallow":
			if relevant && val != "" {
				rules.Disallow = append(rules.Disallow, val)
			}
		case "sitemap":
			rules.Sitemaps = append(rules.Sitemaps, val)
		}
	}
	return rules
}

// urlset/sitemapindex mirror the two XML shapes a sitemap URL can resolve
// to: a leaf list of pages, or an index of further sitemaps.
type xmlURLSet struct {
	XMLName xml.Name   `xml:"urlset"`
	URLs    []xmlURLLoc `xml:"url"`
}
type xmlURLLoc struct {
	Loc string `xml:"loc"`
}
type xmlSitemapIndex struct {
	XMLName  xml.Name    `xml:"sitemapindex"`
	Sitemaps []xmlURLLoc `xml:"sitemap"`
}

// FetchSitemap recursively resolves a sitemap URL (which may itself be a
// sitemap index) into a flat list of page URLs, capped at maxURLs and
// maxDepth levels of index nesting.
func FetchSitemap(ctx context.Context, client *http.Client, sitemapURL string, maxURLs, maxDepth int) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	if err := fetchSitemapRec(ctx, client, sitemapURL, maxURLs, maxDepth, seen, &out); err != nil {
		return out, err
	}
	return out, nil
}

func fetchSitemapRec(ctx context.Context, client *http.Client, sitemapURL string, maxURLs, depthLeft int, seen map[string]bool, out *[]string) error {
	if depthLeft <= 0 || seen[sitemapURL] || len(*out) >= maxURLs {
		return nil
	}
	seen[sitemapURL] = true

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil // per-URL failures are warnings, not layer failures
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil
	}

	var index xmlSitemapIndex
	if xml.Unmarshal(body, &index) == nil && len(index.Sitemaps) > 0 {
		for _, s := range index.Sitemaps {
			if len(*out) >= maxURLs {
				break
			}
			_ = fetchSitemapRec(ctx, client, s.Loc, maxURLs, depthLeft-1, seen, out)
		}
		return nil
	}

	var set xmlURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil
	}
	for _, u := range set.URLs {
		if len(*out) >= maxURLs {
			break
		}
		*out = append(*out, u.Loc)
	}
	return nil
}

// HeadResult is one URL's HEAD-scan outcome.
type HeadResult struct {
	URL        string
	StatusCode int
	FinalURL   string
	Err        error
}

// HeadScan issues HEAD requests against urls (capped by the caller ahead of
// time) and reports each outcome. progress is invoked every progressEvery
// completions with the running count, matching the HeadScanProgress cadence.
func HeadScan(ctx context.Context, client *http.Client, urls []string, progressEvery int, progress func(done, total int)) []HeadResult {
	out := make([]HeadResult, len(urls))
	for i, u := range urls {
		out[i] = headOne(ctx, client, u)
		if progressEvery > 0 && (i+1)%progressEvery == 0 && progress != nil {
			progress(i+1, len(urls))
		}
	}
	if progress != nil {
		progress(len(urls), len(urls))
	}
	return out
}

func headOne(ctx context.Context, client *http.Client, u string) HeadResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return HeadResult{URL: u, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return HeadResult{URL: u, Err: err}
	}
	defer resp.Body.Close()
	return HeadResult{URL: u, StatusCode: resp.StatusCode, FinalURL: resp.Request.URL.String()}
}

// ReachOrigin verifies L0's invariant pre-condition: the origin itself must
// be reachable, or mapping aborts with MapFailed rather than degrading
// layer by layer.
func ReachOrigin(ctx context.Context, client *http.Client, origin *url.URL, userAgent string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", cerr.ErrDomainNotMapped, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: origin unreachable: %v", cerr.ErrDomainNotMapped, err)
	}
	defer resp.Body.Close()
	return nil
}
