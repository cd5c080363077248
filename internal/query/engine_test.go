package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cortex/internal/sitemap"
)

func buildTestMap(domain string) *sitemap.SiteMap {
	b := sitemap.NewBuilder(domain)

	f0 := make([]float32, sitemap.FeatureDim)
	f0[sitemap.DimPrice] = 10
	n0 := b.AddNode(domain+"/", sitemap.Node{PageType: sitemap.PageHome, Confidence: 200}, f0)

	f1 := make([]float32, sitemap.FeatureDim)
	f1[sitemap.DimPrice] = 50
	n1 := b.AddNode(domain+"/p1", sitemap.Node{PageType: sitemap.PageProductDetail, Confidence: 150}, f1)

	f2 := make([]float32, sitemap.FeatureDim)
	f2[sitemap.DimPrice] = 55
	n2 := b.AddNode(domain+"/p2", sitemap.Node{PageType: sitemap.PageProductDetail, Confidence: 100}, f2)

	b.AddEdge(n0, uint32(n1), sitemap.EdgeLink, 1, 0)
	b.AddEdge(n1, uint32(n2), sitemap.EdgeLink, 2, 0)
	b.AddEdge(n0, uint32(n2), sitemap.EdgeLink, 10, 0)
	b.AddAction(n1, 0x0200, int32(n2), 5, 90, true)

	return b.Build()
}

func TestFilter_OrdersByDescendingConfidence(t *testing.T) {
	m := buildTestMap("shop.test")
	e := NewEngine()
	e.Load(m)

	results := e.Filter("shop.test", FilterQuery{PageTypes: []sitemap.PageType{sitemap.PageProductDetail}})
	require.Len(t, results, 2)
	require.Equal(t, "shop.test/p1", results[0].URL)
	require.Equal(t, "shop.test/p2", results[1].URL)
}

func TestFilter_FeatureRangeAndURLPrefix(t *testing.T) {
	m := buildTestMap("shop.test")
	e := NewEngine()
	e.Load(m)

	min := float32(40)
	results := e.Filter("shop.test", FilterQuery{
		URLPrefix:     "shop.test/p",
		FeatureRanges: []FeatureRange{{Dimension: sitemap.DimPrice, Min: &min}},
	})
	require.Len(t, results, 2)
}

func TestFilterAllDomains_MergesAcrossMaps(t *testing.T) {
	e := NewEngine()
	e.Load(buildTestMap("a.test"))
	e.Load(buildTestMap("b.test"))

	results := e.FilterAllDomains(FilterQuery{PageTypes: []sitemap.PageType{sitemap.PageHome}})
	require.Len(t, results, 2)
}

func TestNearest_FindsClosestByFeature(t *testing.T) {
	m := buildTestMap("shop.test")
	e := NewEngine()
	e.Load(m)
	// Every buildTestMap node lies along DimPrice alone, so cosine similarity
	// cannot separate them; give p2 a second dimension shared with the target.
	m.Features[2][0] = 10

	target := make([]float32, sitemap.FeatureDim)
	target[sitemap.DimPrice] = 52
	target[0] = 10

	results := e.Nearest("shop.test", target, 1)
	require.Len(t, results, 1)
	require.Equal(t, "shop.test/p2", results[0].URL)
}

func TestShortestPath_FindsCheapestRoute(t *testing.T) {
	m := buildTestMap("shop.test")
	e := NewEngine()
	e.Load(m)

	path, ok := e.ShortestPath("shop.test", 0, 2, PathConstraints{AllowAuthRequired: true, MaxRisk: 255})
	require.True(t, ok)
	require.Equal(t, []int{0, 1, 2}, path.Nodes)
	require.Equal(t, 3.0, path.TotalWeight)
}

func TestShortestPath_UnreachableReturnsFalse(t *testing.T) {
	m := buildTestMap("shop.test")
	e := NewEngine()
	e.Load(m)

	_, ok := e.ShortestPath("shop.test", 2, 0, PathConstraints{MaxRisk: 255})
	require.False(t, ok)
}

func TestShortestPath_RequiredActionsSurfacedWhenRiskExceeded(t *testing.T) {
	m := buildTestMap("shop.test")
	e := NewEngine()
	e.Load(m)

	path, ok := e.ShortestPath("shop.test", 0, 2, PathConstraints{MaxRisk: 50})
	require.True(t, ok)
	require.NotEmpty(t, path.RequiredActions)
	require.Equal(t, 1, path.RequiredActions[0].AtNode)
}

func TestMemoryVectorIndex_UpsertAndSearch(t *testing.T) {
	idx := NewMemoryVectorIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "shop.test", 1, []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "shop.test", 2, []float32{0, 1, 0}))

	results, err := idx.Search(ctx, "shop.test", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].ID)
}
