package acquisition

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestParseRobots_DisallowAndSitemap(t *testing.T) {
	body := `
User-agent: *
Disallow: /admin
Disallow: /private
Sitemap: https://shop.test/sitemap.xml
`
	rules := parseRobots(body, "cortex-bot")
	require.True(t, rules.Allows("/products"))
	require.False(t, rules.Allows("/admin/orders"))
	require.Equal(t, []string{"https://shop.test/sitemap.xml"}, rules.Sitemaps)
}

func TestJSONLDObjects_ParsesProductOffer(t *testing.T) {
	rawHTML := `<html><head><script type="application/ld+json">
	{"@type":"Product","offers":{"price":"19.99","availability":"https://schema.org/InStock"},"aggregateRating":{"ratingValue":4.2,"reviewCount":87}}
	</script></head></html>`
	doc, err := html.Parse(strings.NewReader(rawHTML))
	require.NoError(t, err)

	objs := JSONLDObjects(doc)
	require.Len(t, objs, 1)

	var fields StructuredFields
	fields.MergeJSONLD(objs[0])
	require.True(t, fields.HasPrice)
	require.Equal(t, 19.99, fields.Price)
	require.True(t, fields.HasRating)
	require.Equal(t, 4.2, fields.Rating)
	require.True(t, fields.HasReviewCount)
	require.Equal(t, 87, fields.ReviewCount)
}

func TestForms_DetectsPasswordField(t *testing.T) {
	rawHTML := `<html><body><form action="/login" method="post">
	<input type="text" name="user">
	<input type="password" name="pass">
	<button type="submit">Sign In</button>
	</form></body></html>`
	doc, err := html.Parse(strings.NewReader(rawHTML))
	require.NoError(t, err)

	forms := Forms(doc)
	require.Len(t, forms, 1)
	require.True(t, forms[0].HasPassword)
	require.Equal(t, "POST", forms[0].Method)
}

func TestClassifyActionOpcode_CommerceAndAuth(t *testing.T) {
	require.Equal(t, MakeOpcode(CategoryCommerce, 0x00), ClassifyActionOpcode("Add to Cart", "button"))
	require.Equal(t, MakeOpcode(CategoryAuth, 0x00), ClassifyActionOpcode("Sign In", "button"))
	require.Equal(t, MakeOpcode(CategoryForm, 0x05), ClassifyActionOpcode("Submit", "submit"))
}

func TestActionsFromForms_LoginFormRisksHigher(t *testing.T) {
	forms := []Form{
		{Action: "/login", Method: "POST", HasPassword: true, SubmitLabel: "Sign In"},
		{Action: "/search", Method: "GET", SubmitLabel: "Search"},
	}
	actions := ActionsFromForms(forms)
	require.Len(t, actions, 2)
	require.Equal(t, uint8(40), actions[0].Risk)
	require.Less(t, actions[1].Risk, actions[0].Risk)
}

func TestExtractScriptURLs_FiltersCDNAndCrossOrigin(t *testing.T) {
	rawHTML := `<script src="/js/app.js"></script>
	<script src="https://cdn.jsdelivr.net/lib.js"></script>
	<script src="https://other.test/tracker.js"></script>`
	urls := ExtractScriptURLs(rawHTML, "https://shop.test")
	require.Equal(t, []string{"https://shop.test/js/app.js"}, urls)
}

func TestResolveAPIURL_WikipediaTemplate(t *testing.T) {
	resolved, ok := ResolveAPIURL("https://en.wikipedia.org/wiki/Go_(programming_language)", DefaultAPITemplates)
	require.True(t, ok) // the article title is the second path segment, after "wiki"
	require.Equal(t, "https://en.wikipedia.org/api/rest_v1/page/summary/Go_(programming_language)", resolved)
}

func TestResolveAPIURL_UnknownHost(t *testing.T) {
	_, ok := ResolveAPIURL("https://unknown.example.com/foo", DefaultAPITemplates)
	require.False(t, ok)
}

func TestHeadScan_ReportsStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	results := HeadScan(context.Background(), srv.Client(), []string{srv.URL, srv.URL}, 0, nil)
	require.Len(t, results, 2)
	require.Equal(t, http.StatusOK, results[0].StatusCode)
}

func TestNoopBrowser_AlwaysUnavailable(t *testing.T) {
	b := NoopBrowser{}
	_, err := b.Navigate(context.Background(), "https://example.com", 0)
	require.Error(t, err)
}
