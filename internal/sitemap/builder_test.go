package sitemap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilder_AddNodeReturnsStableIndexOnUpdate(t *testing.T) {
	b := NewBuilder("a.test")
	f := make([]float32, FeatureDim)
	i0 := b.AddNode("https://a.test/", Node{PageType: PageHome}, f)
	i1 := b.AddNode("https://a.test/", Node{PageType: PageHome, Confidence: 50}, f)
	require.Equal(t, i0, i1)

	idx, ok := b.Index("https://a.test/")
	require.True(t, ok)
	require.Equal(t, i0, idx)
}

func TestBuilder_BuildComputesCSRAndDegreeCounts(t *testing.T) {
	b := NewBuilder("a.test")
	f := make([]float32, FeatureDim)
	home := b.AddNode("https://a.test/", Node{PageType: PageHome}, f)
	p1 := b.AddNode("https://a.test/p1", Node{PageType: PageProductDetail}, f)
	p2 := b.AddNode("https://a.test/p2", Node{PageType: PageProductDetail}, f)

	b.AddEdge(home, uint32(p1), EdgeLink, 1, 0)
	b.AddEdge(home, uint32(p2), EdgeLink, 1, 0)
	b.AddEdge(p1, uint32(p2), EdgeLink, 1, 0)

	m := b.Build()
	require.Equal(t, 3, m.NodeCount())
	require.Len(t, m.EdgesFrom(home), 2)
	require.Len(t, m.EdgesFrom(p1), 1)
	require.Len(t, m.EdgesFrom(p2), 0)

	require.Equal(t, uint16(2), m.Nodes[home].OutboundCount)
	require.Equal(t, uint16(2), m.Nodes[p2].InboundCount)
	require.Equal(t, uint16(1), m.Nodes[p1].InboundCount)
}

func TestBuilder_ActionsGroupedBySourceNode(t *testing.T) {
	b := NewBuilder("a.test")
	f := make([]float32, FeatureDim)
	home := b.AddNode("https://a.test/", Node{}, f)
	cart := b.AddNode("https://a.test/cart", Node{}, f)

	b.AddAction(cart, 0x0101, int32(cart), 5, 10, true)
	b.AddAction(home, 0x0201, -1, 1, 20, false)

	m := b.Build()
	require.Len(t, m.ActionsFrom(home), 1)
	require.Len(t, m.ActionsFrom(cart), 1)
	require.Equal(t, uint16(0x0201), m.ActionsFrom(home)[0].Opcode)
}

func TestBuilder_SetRenderedUpdatesFlagsAndFreshness(t *testing.T) {
	b := NewBuilder("a.test")
	f := make([]float32, FeatureDim)
	idx := b.AddNode("https://a.test/", Node{}, f)

	rendered := make([]float32, FeatureDim)
	rendered[0] = 3
	rendered[1] = 4
	b.SetRendered(idx, rendered)

	m := b.Build()
	require.NotZero(t, m.Nodes[idx].Flags&FlagRendered)
	require.Equal(t, uint8(255), m.Nodes[idx].Freshness)
	require.InDelta(t, 5.0, m.Nodes[idx].FeatureNorm, 0.0001)
}

func TestClusterK_SmallAndLargeDomains(t *testing.T) {
	require.Equal(t, 0, clusterK(0))
	require.Equal(t, 1, clusterK(2))
	require.Equal(t, 3, clusterK(9))
	require.Equal(t, 3, clusterK(100))
	require.Equal(t, 4, clusterK(200))
}

func TestComputeClusters_AssignsEachRowToNearestCentroid(t *testing.T) {
	rows := make([][]float32, 6)
	for i := range rows {
		row := make([]float32, FeatureDim)
		if i < 3 {
			row[0] = 1
		} else {
			row[0] = 100
		}
		rows[i] = row
	}

	clusters := computeClusters(rows, 2)
	require.Len(t, clusters.Assignment, 6)
	require.Equal(t, clusters.Assignment[0], clusters.Assignment[1])
	require.Equal(t, clusters.Assignment[1], clusters.Assignment[2])
	require.Equal(t, clusters.Assignment[3], clusters.Assignment[4])
	require.Equal(t, clusters.Assignment[4], clusters.Assignment[5])
	require.NotEqual(t, clusters.Assignment[0], clusters.Assignment[3])
}

func TestCosineSimilarity_IdenticalVectorsAreOne(t *testing.T) {
	a := []float32{1, 2, 3}
	require.InDelta(t, 1.0, CosineSimilarity(a, a), 0.0001)
	require.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
