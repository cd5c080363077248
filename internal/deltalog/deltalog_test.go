package deltalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cortex/internal/sitemap"
)

func buildMap(domain string, urls []string, priceByURL map[string]float32) *sitemap.SiteMap {
	b := sitemap.NewBuilder(domain)
	for _, u := range urls {
		f := make([]float32, sitemap.FeatureDim)
		f[sitemap.DimPrice] = priceByURL[u]
		b.AddNode(u, sitemap.Node{PageType: sitemap.PageProductDetail}, f)
	}
	return b.Build()
}

func TestDiff_DetectsAdditionsRemovalsAndModifications(t *testing.T) {
	before := buildMap("shop.test", []string{"/a", "/b"}, map[string]float32{"/a": 10, "/b": 20})
	after := buildMap("shop.test", []string{"/b", "/c"}, map[string]float32{"/b": 25, "/c": 30})

	delta := Diff(before, after, "crawler-1", time.Unix(1700000000, 0))

	require.Equal(t, []string{"/c"}, delta.NodesAdded)
	require.Equal(t, []string{"/a"}, delta.NodesRemoved)
	require.Len(t, delta.NodesModified, 1)
	require.Len(t, delta.NodesModified[0].ChangedDims, 1)
	require.Equal(t, uint8(sitemap.DimPrice), delta.NodesModified[0].ChangedDims[0].Dimension)
	require.Equal(t, float32(25), delta.NodesModified[0].ChangedDims[0].NewValue)
}

func TestDiff_IgnoresSubEpsilonChanges(t *testing.T) {
	before := buildMap("shop.test", []string{"/a"}, map[string]float32{"/a": 10})
	after := buildMap("shop.test", []string{"/a"}, map[string]float32{"/a": 10.0000001})

	delta := Diff(before, after, "crawler-1", time.Unix(0, 0))
	require.Empty(t, delta.NodesModified)
}

func TestApply_ReproducesAfterFromBaseAndDelta(t *testing.T) {
	before := buildMap("shop.test", []string{"/a", "/b"}, map[string]float32{"/a": 10, "/b": 20})
	after := buildMap("shop.test", []string{"/b", "/c"}, map[string]float32{"/b": 25, "/c": 30})

	delta := Diff(before, after, "crawler-1", time.Unix(1700000000, 0))
	got, err := Apply(before, delta)
	require.NoError(t, err)

	require.ElementsMatch(t, after.URLs, got.URLs)
	for i, url := range got.URLs {
		j := indexOf(after.URLs, url)
		require.GreaterOrEqual(t, j, 0)
		require.Equal(t, after.Features[j][sitemap.DimPrice], got.Features[i][sitemap.DimPrice])
	}
}

// TestApply_ModificationOnlyRoundTrip exercises the apply_delta(A,
// compute_delta(A, B)) == B property for a delta that only changes a single
// feature dimension (scenario S5): map A with row 0 dim 48 = 100.0, map B
// identical except dim 48 = 80.0.
func TestApply_ModificationOnlyRoundTrip(t *testing.T) {
	a := buildMap("shop.test", []string{"/a"}, map[string]float32{"/a": 100.0})
	b := buildMap("shop.test", []string{"/a"}, map[string]float32{"/a": 80.0})

	delta := Diff(a, b, "crawler-1", time.Unix(1700000000, 0))
	got, err := Apply(a, delta)
	require.NoError(t, err)

	require.Equal(t, float32(80.0), got.Features[0][sitemap.DimPrice])
}

func TestUnapply_RecoversBaseFromAfterAndDelta(t *testing.T) {
	before := buildMap("shop.test", []string{"/a", "/b"}, map[string]float32{"/a": 10, "/b": 20})
	after := buildMap("shop.test", []string{"/b", "/c"}, map[string]float32{"/b": 25, "/c": 30})

	delta := Diff(before, after, "crawler-1", time.Unix(1700000000, 0))
	got, err := Unapply(after, delta)
	require.NoError(t, err)

	require.ElementsMatch(t, before.URLs, got.URLs)
	idx := indexOf(got.URLs, "/a")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, float32(10), got.Features[idx][sitemap.DimPrice])
}

func TestStore_RehydrateReturnsStateAtTime(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "shop.test", 10)
	require.NoError(t, err)

	m1 := buildMap("shop.test", []string{"/a"}, map[string]float32{"/a": 10})
	require.NoError(t, store.SaveSnapshot(m1))

	t1 := time.Unix(1700000000, 0)
	m2 := buildMap("shop.test", []string{"/a", "/b"}, map[string]float32{"/a": 10, "/b": 20})
	delta1 := Diff(m1, m2, "crawler-1", t1)
	_, err = store.Append(delta1)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(m2))

	t2 := time.Unix(1700003600, 0)
	m3 := buildMap("shop.test", []string{"/a", "/b"}, map[string]float32{"/a": 15, "/b": 20})
	delta2 := Diff(m2, m3, "crawler-1", t2)
	_, err = store.Append(delta2)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(m3))

	atT1, err := store.Rehydrate(t1)
	require.NoError(t, err)
	require.ElementsMatch(t, m2.URLs, atT1.URLs)
	idx := indexOf(atT1.URLs, "/a")
	require.Equal(t, float32(10), atT1.Features[idx][sitemap.DimPrice])

	latest, err := store.Rehydrate(t2)
	require.NoError(t, err)
	idx = indexOf(latest.URLs, "/a")
	require.Equal(t, float32(15), latest.Features[idx][sitemap.DimPrice])
}

func indexOf(urls []string, url string) int {
	for i, u := range urls {
		if u == url {
			return i
		}
	}
	return -1
}

func TestStore_SnapshotAndAppendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "shop.test", 5)
	require.NoError(t, err)

	m := buildMap("shop.test", []string{"/a"}, map[string]float32{"/a": 10})
	require.NoError(t, store.SaveSnapshot(m))

	got, err := store.LoadSnapshot()
	require.NoError(t, err)
	require.Equal(t, m.Domain, got.Domain)
	require.Equal(t, m.URLs, got.URLs)

	delta := sitemap.SiteDelta{Timestamp: time.Unix(1700000000, 0), NodesAdded: []string{"/b"}}
	seq, err := store.Append(delta)
	require.NoError(t, err)
	require.Equal(t, 0, seq)

	hist, err := store.History(time.Time{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, []string{"/b"}, hist[0].NodesAdded)
}

func TestStore_GarbageCollectionRetainsOnlyKeep(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "shop.test", 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.Append(sitemap.SiteDelta{Timestamp: time.Unix(int64(i), 0)})
		require.NoError(t, err)
	}

	hist, err := store.History(time.Time{})
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestRegistry_DiffDomainsFindsChangedLeaves(t *testing.T) {
	a := BuildRegistry([]RegistryEntry{
		{Domain: "a.test", Hash: 1},
		{Domain: "b.test", Hash: 2},
		{Domain: "c.test", Hash: 3},
	})
	b := BuildRegistry([]RegistryEntry{
		{Domain: "a.test", Hash: 1},
		{Domain: "b.test", Hash: 99},
		{Domain: "c.test", Hash: 3},
	})

	changed := DiffDomains(a, b)
	require.Equal(t, []string{"b.test"}, changed)
}

func TestAggregate_DailyAvg(t *testing.T) {
	day1 := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	day1b := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 5, 0, 0, 0, time.UTC)

	points := []Point{
		{Timestamp: day1, Value: 10},
		{Timestamp: day1b, Value: 20},
		{Timestamp: day2, Value: 30},
	}
	out := Aggregate(points, BucketDaily, AggAvg)
	require.Len(t, out, 2)
	require.InDelta(t, 15.0, out[0].Value, 0.001)
	require.InDelta(t, 30.0, out[1].Value, 0.001)
}

func TestDetectTrend_UpwardSeries(t *testing.T) {
	var points []Point
	for i := 0; i < 10; i++ {
		points = append(points, Point{Timestamp: time.Unix(int64(i*86400), 0), Value: float32(i) * 2})
	}
	trend := DetectTrend(points)
	require.Equal(t, TrendUp, trend.Direction)
	require.Greater(t, trend.Confidence, 0.9)
}

func TestDetectTrend_FlatSeries(t *testing.T) {
	var points []Point
	for i := 0; i < 10; i++ {
		points = append(points, Point{Timestamp: time.Unix(int64(i*86400), 0), Value: 5})
	}
	trend := DetectTrend(points)
	require.Equal(t, TrendFlat, trend.Direction)
}

func TestDetectAnomalies_FlagsSpike(t *testing.T) {
	var points []Point
	for i := 0; i < 20; i++ {
		points = append(points, Point{Timestamp: time.Unix(int64(i*86400), 0), Value: 10})
	}
	points = append(points, Point{Timestamp: time.Unix(int64(20*86400), 0), Value: 1000})

	anomalies := DetectAnomalies(points)
	require.True(t, anomalies[len(anomalies)-1].IsOutlier)
}

func TestDetectPeriodic_FindsDominantLag(t *testing.T) {
	var points []Point
	for i := 0; i < 60; i++ {
		v := float32(0)
		if i%7 == 0 {
			v = 10
		}
		points = append(points, Point{Timestamp: time.Unix(int64(i*86400), 0), Value: v})
	}
	p := DetectPeriodic(points)
	require.True(t, p.Found)
	require.Equal(t, 7, p.LagDays)
}

func TestDetectSeasonal_RequiresMinimumSpan(t *testing.T) {
	points := []Point{
		{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Value: 5},
		{Timestamp: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), Value: 6},
	}
	require.Nil(t, DetectSeasonal(points))
}
