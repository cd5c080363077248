package acquisition

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// APITemplate maps a known domain's canonical URL shape to an API endpoint
// template, with $1, $2, ... substituted from path segments captured after
// the domain's root.
type APITemplate struct {
	Host     string
	Template string // e.g. "https://en.wikipedia.org/api/rest_v1/page/summary/$2"
}

// DefaultAPITemplates is the catalog of domains L2 knows how to talk to
// directly, bypassing HTML entirely.
var DefaultAPITemplates = []APITemplate{
	{Host: "en.wikipedia.org", Template: "https://en.wikipedia.org/api/rest_v1/page/summary/$2"},
	{Host: "github.com", Template: "https://api.github.com/repos/$1/$2"},
	{Host: "www.reddit.com", Template: "https://www.reddit.com/$1.json"},
	{Host: "www.npmjs.com", Template: "https://registry.npmjs.org/$1"},
	{Host: "pypi.org", Template: "https://pypi.org/pypi/$1/json"},
	{Host: "crates.io", Template: "https://crates.io/api/v1/crates/$1"},
}

// ResolveAPIURL finds the template matching pageURL's host and substitutes
// its path segments in, or returns ok=false for an unknown domain.
func ResolveAPIURL(pageURL string, templates []APITemplate) (resolved string, ok bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	var tmpl *APITemplate
	for i := range templates {
		if templates[i].Host == u.Host {
			tmpl = &templates[i]
			break
		}
	}
	if tmpl == nil {
		return "", false
	}

	var segs []string
	for _, s := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	out := tmpl.Template
	for i, s := range segs {
		out = strings.ReplaceAll(out, fmt.Sprintf("$%d", i+1), s)
	}
	if strings.Contains(out, "$") {
		return "", false // template needs more segments than the URL supplied
	}
	return out, true
}

// FetchAPI fetches resolved and decodes it as JSON, merging whatever
// commerce-relevant fields it finds into fields the same way JSON-LD does.
func FetchAPI(ctx context.Context, client *http.Client, resolved string, fields *StructuredFields) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil // unknown-domain/unreachable API calls degrade silently
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, nil
	}
	fields.MergeJSONLD(obj)
	return obj, nil
}
