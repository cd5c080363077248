package features

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cortex/internal/sitemap"
)

func TestEncode_IsUnitNorm(t *testing.T) {
	ws := WorkingSet{
		URL:         "https://shop.test/products/widget",
		Depth:       2,
		HasPrice:    true,
		Price:       29.99,
		HasRating:   true,
		Rating:      4.5,
		HasMedia:    true,
	}
	v, norm := Encode(ws)
	require.Len(t, v, sitemap.FeatureDim)
	require.Greater(t, norm, float32(0))

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, sum, 0.0001)
}

func TestEncode_EmptyWorkingSetIsZeroVector(t *testing.T) {
	v, norm := Encode(WorkingSet{})
	require.Equal(t, float32(0), norm)
	for _, x := range v {
		require.Equal(t, float32(0), x)
	}
}

func TestEncode_RatingClampedToRange(t *testing.T) {
	v, norm := Encode(WorkingSet{HasRating: true, Rating: 9})
	// v is the clamped vector divided by norm, so v*norm recovers the
	// pre-normalization rating.
	require.NotEqual(t, float32(0), v[sitemap.DimRating])
	require.InDelta(t, 5.0, float64(v[sitemap.DimRating]*norm), 1e-4)
}

func TestEncode_SameTokenProducesSameHashAcrossURLs(t *testing.T) {
	v1, _ := Encode(WorkingSet{URL: "https://a.test/cart"})
	v2, _ := Encode(WorkingSet{URL: "https://b.test/cart"})
	require.Equal(t, v1[0], v2[0])
}
