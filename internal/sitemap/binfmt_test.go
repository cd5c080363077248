package sitemap

import (
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cortex/internal/cerr"
)

func sampleMap() *SiteMap {
	b := NewBuilder("example.com")
	f0 := make([]float32, FeatureDim)
	f0[0] = 1
	f1 := make([]float32, FeatureDim)
	f1[1] = 2
	i0 := b.AddNode("https://example.com/", Node{PageType: PageHome, Confidence: 200}, f0)
	i1 := b.AddNode("https://example.com/cart", Node{PageType: PageCart, Confidence: 180}, f1)
	b.AddEdge(i0, uint32(i1), EdgeLink, 1, 0)
	b.AddAction(i1, 0x0101, int32(i1), 5, 10, true)
	b.AddAction(i1, 0x0102, -1, 1, 90, false)
	return b.Build()
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	m := sampleMap()
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, m.Domain, got.Domain)
	require.Equal(t, m.MappedAt.Unix(), got.MappedAt.Unix())
	require.Equal(t, m.URLs, got.URLs)
	require.Equal(t, m.Nodes, got.Nodes)
	require.Equal(t, m.Edges, got.Edges)
	require.Equal(t, m.EdgeIndex, got.EdgeIndex)
	require.Equal(t, m.Actions, got.Actions)
	require.Equal(t, m.ActionIndex, got.ActionIndex)
	require.Equal(t, m.Clusters.Assignment, got.Clusters.Assignment)
	require.Len(t, got.Clusters.Centroids, len(m.Clusters.Centroids))
}

func TestEncodeDecode_ActionExecBitPacksIntoRisk(t *testing.T) {
	m := sampleMap()
	data, err := Encode(m)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	require.True(t, got.Actions[0].HTTPExecutable)
	require.Equal(t, uint8(10), got.Actions[0].Risk)
	require.False(t, got.Actions[1].HTTPExecutable)
	require.Equal(t, uint8(90), got.Actions[1].Risk)
}

func TestDecode_RejectsChecksumMismatch(t *testing.T) {
	data, err := Encode(sampleMap())
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF

	_, err = Decode(data)
	require.ErrorIs(t, err, cerr.ErrChecksumMismatch)
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	data, err := Encode(sampleMap())
	require.NoError(t, err)
	data[0] ^= 0xFF
	fixChecksum(data)

	_, err = Decode(data)
	require.ErrorIs(t, err, cerr.ErrBadMagic)
}

func TestDecode_RejectsUnsupportedVersion(t *testing.T) {
	data, err := Encode(sampleMap())
	require.NoError(t, err)
	data[4] = 0xFF
	fixChecksum(data)

	_, err = Decode(data)
	require.ErrorIs(t, err, cerr.ErrUnsupportedVersion)
}

func TestDecode_RejectsTruncatedInput(t *testing.T) {
	data, err := Encode(sampleMap())
	require.NoError(t, err)

	_, err = Decode(data[:8])
	require.ErrorIs(t, err, cerr.ErrChecksumMismatch)
}

func TestDecode_EmptySiteMap(t *testing.T) {
	b := NewBuilder("empty.test")
	m := b.Build()
	m.MappedAt = time.Unix(1700000000, 0).UTC()

	data, err := Encode(m)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, 0, got.NodeCount())
	require.Empty(t, got.Actions)
	require.Empty(t, got.Edges)
}

// fixChecksum recomputes and rewrites the trailing CRC32 after a test has
// mutated the body, isolating the mutation under test from an incidental
// checksum failure.
func fixChecksum(data []byte) {
	body := data[:len(data)-4]
	sum := crc32.ChecksumIEEE(body)
	data[len(data)-4] = byte(sum)
	data[len(data)-3] = byte(sum >> 8)
	data[len(data)-2] = byte(sum >> 16)
	data[len(data)-1] = byte(sum >> 24)
}
