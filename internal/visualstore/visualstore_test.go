package visualstore

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns a fixed vector regardless of input, so tests don't
// depend on any real model.
type fakeEmbedder struct {
	dim int
	vec []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, _ []byte) []float32 {
	if f.vec != nil {
		return f.vec
	}
	return make([]float32, f.dim)
}
func (f *fakeEmbedder) Dimension() int { return f.dim }

func solidJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestStore_AddAssignsMonotonicIDs(t *testing.T) {
	s := NewStore(8)
	id1 := s.Add(VisualObservation{})
	id2 := s.Add(VisualObservation{})
	require.Equal(t, uint64(1), id1)
	require.Equal(t, uint64(2), id2)
	require.Equal(t, 2, s.Count())
}

func TestStore_RecentOrdersByDescendingTimestamp(t *testing.T) {
	s := NewStore(8)
	now := time.Now()
	s.Add(VisualObservation{Timestamp: now.Add(-time.Hour)})
	s.Add(VisualObservation{Timestamp: now})
	recent := s.Recent(1)
	require.Len(t, recent, 1)
	require.Equal(t, uint64(2), recent[0].ID)
}

func TestStore_BySessionFiltersCorrectly(t *testing.T) {
	s := NewStore(8)
	s.Add(VisualObservation{SessionID: 1})
	s.Add(VisualObservation{SessionID: 2})
	got := s.BySession(1)
	require.Len(t, got, 1)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	s := NewStore(4)
	link := uint64(42)
	s.Add(VisualObservation{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		SessionID: 7,
		Source:    CaptureSource{Kind: SourceFile, Path: "/tmp/a.png"},
		Embedding: []float32{0.1, 0.2, 0.3, 0.4},
		Thumbnail: []byte{1, 2, 3, 4, 5},
		Metadata: ObservationMeta{
			Width: 10, Height: 20, OriginalWidth: 100, OriginalHeight: 200,
			Labels: []string{"a", "b"}, Description: "test",
		},
		MemoryLink: &link,
	})

	data := Encode(s)
	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, s.EmbeddingDim, decoded.EmbeddingDim)
	require.Equal(t, s.NextID, decoded.NextID)
	require.Len(t, decoded.Observations, 1)
	require.Equal(t, s.Observations[0].Embedding, decoded.Observations[0].Embedding)
	require.Equal(t, s.Observations[0].Thumbnail, decoded.Observations[0].Thumbnail)
	require.NotNil(t, decoded.Observations[0].MemoryLink)
	require.Equal(t, uint64(42), *decoded.Observations[0].MemoryLink)
}

func TestDecode_RejectsChecksumMismatch(t *testing.T) {
	s := NewStore(4)
	data := Encode(s)
	data[len(data)-1] ^= 0xFF
	_, err := Decode(data)
	require.Error(t, err)
}

func TestCosineSimilarity_OrthogonalIsZero(t *testing.T) {
	require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestCosineSimilarity_EmptyIsZero(t *testing.T) {
	require.Equal(t, float32(0), CosineSimilarity(nil, nil))
}

func TestFindSimilar_ExcludesBelowThresholdAndEmptyEmbeddings(t *testing.T) {
	obs := []VisualObservation{
		{ID: 1, Embedding: []float32{1, 0}},
		{ID: 2, Embedding: nil},
		{ID: 3, Embedding: []float32{0, 1}},
	}
	matches := FindSimilar([]float32{1, 0}, obs, 10, 0.5)
	require.Len(t, matches, 1)
	require.Equal(t, uint64(1), matches[0].ID)
}

func TestComputeDiff_IdenticalImagesAreFullySimilar(t *testing.T) {
	img := solidJPEG(t, 64, 64, color.White)
	diff, err := ComputeDiff(1, 2, img, img)
	require.NoError(t, err)
	require.InDelta(t, 1.0, diff.Similarity, 0.05)
}

func TestComputeDiff_DifferentImagesFlagRegions(t *testing.T) {
	imgA := solidJPEG(t, 64, 64, color.White)
	imgB := solidJPEG(t, 64, 64, color.Black)
	diff, err := ComputeDiff(1, 2, imgA, imgB)
	require.NoError(t, err)
	require.Less(t, diff.Similarity, float32(1.0))
	require.NotEmpty(t, diff.ChangedRegions)
}

func TestGenerateThumbnail_BoundsLongestEdge(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1000, 500))
	thumb := GenerateThumbnail(src)
	w, h, err := decodeDims(thumb)
	require.NoError(t, err)
	require.Equal(t, thumbnailMaxEdge, w)
	require.Greater(t, h, 0)
	require.Less(t, h, w)
}

func TestSession_CaptureAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.avis")

	embedder := &fakeEmbedder{dim: 4}
	sess, err := Open(path, embedder)
	require.NoError(t, err)

	imgPath := filepath.Join(dir, "src.jpg")
	require.NoError(t, os.WriteFile(imgPath, solidJPEG(t, 32, 32, color.White), 0o644))

	res, err := sess.Capture(context.Background(), "file", imgPath, "", []string{"label"}, "desc")
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.CaptureID)

	require.NoError(t, sess.Save())
	require.FileExists(t, path)

	reopened, err := Open(path, embedder)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.Count())
}

func TestSession_FindSimilarExcludesSelf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.avis")
	embedder := &fakeEmbedder{dim: 2, vec: []float32{1, 0}}
	sess, err := Open(path, embedder)
	require.NoError(t, err)

	imgPath := filepath.Join(dir, "src.jpg")
	require.NoError(t, os.WriteFile(imgPath, solidJPEG(t, 16, 16, color.White), 0o644))

	_, err = sess.Capture(context.Background(), "file", imgPath, "", nil, "")
	require.NoError(t, err)
	res2, err := sess.Capture(context.Background(), "file", imgPath, "", nil, "")
	require.NoError(t, err)

	matches, err := sess.FindSimilar(res2.CaptureID, 5, 0)
	require.NoError(t, err)
	for _, m := range matches {
		require.NotEqual(t, res2.CaptureID, m.ID)
	}
}

func TestSession_ExpiredAfterAbsoluteTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.avis")
	sess, err := Open(path, &fakeEmbedder{dim: 2})
	require.NoError(t, err)

	require.False(t, sess.Expired(time.Now()))
	require.True(t, sess.Expired(time.Now().Add(31*time.Minute)))
}
