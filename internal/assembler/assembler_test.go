package assembler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cortex/internal/sitemap"
)

func TestSelectSamples_AlwaysIncludesHome(t *testing.T) {
	urls := []CandidateURL{
		{URL: "https://shop.test/", PageType: sitemap.PageHome, Depth: 0},
		{URL: "https://shop.test/p1", PageType: sitemap.PageProductDetail, Depth: 1, InboundCount: 5},
		{URL: "https://shop.test/p2", PageType: sitemap.PageProductDetail, Depth: 1, InboundCount: 1},
	}
	got := SelectSamples(urls, 2)
	require.Contains(t, got, "https://shop.test/")
}

func TestSelectSamples_RespectsMaxRender(t *testing.T) {
	var urls []CandidateURL
	for i := 0; i < 20; i++ {
		urls = append(urls, CandidateURL{URL: "https://shop.test/p" + string(rune('a'+i)), PageType: sitemap.PageProductDetail, Depth: 1})
	}
	got := SelectSamples(urls, 5)
	require.Len(t, got, 5)
}

func TestSelectSamples_HigherInboundScoresFirst(t *testing.T) {
	urls := []CandidateURL{
		{URL: "https://shop.test/low", PageType: sitemap.PageProductDetail, InboundCount: 1, Depth: 2},
		{URL: "https://shop.test/high", PageType: sitemap.PageFaq, InboundCount: 50, Depth: 2},
	}
	got := SelectSamples(urls, 1)
	require.Equal(t, []string{"https://shop.test/high"}, got)
}

func TestSelectUnrendered_SkipsAlreadyRendered(t *testing.T) {
	b := sitemap.NewBuilder("shop.test")
	f := make([]float32, sitemap.FeatureDim)
	idx := b.AddNode("https://shop.test/", sitemap.Node{}, f)
	b.SetRendered(idx, f)
	b.AddNode("https://shop.test/p1", sitemap.Node{}, f)
	m := b.Build()

	candidates := SelectUnrendered(m, 10)
	require.Len(t, candidates, 1)
	require.Equal(t, "https://shop.test/p1", candidates[0].URL)
}

func TestProgressiveQueue_DrainsInPriorityOrder(t *testing.T) {
	q := NewProgressiveQueue([]RenderCandidate{
		{URL: "low", Priority: 1},
		{URL: "high", Priority: 10},
	})
	q.Refill(nil)
	first, ok := q.Next()
	require.True(t, ok)
	require.Equal(t, "high", first.URL)
}
