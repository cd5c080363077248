package sitemap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"time"

	"cortex/internal/cerr"
)

// FormatMagic and FormatVersion identify a .ctx file. Readers must reject any
// other magic outright and any version they do not implement; the format is
// forward-incompatible by version bump. FormatMagic's little-endian on-disk
// bytes spell "TCTX".
const (
	FormatMagic   uint32 = 0x58544354
	FormatVersion uint16 = 1
)

// actionRiskExecBit packs ActionRecord.HTTPExecutable into the high bit of
// the on-disk risk byte so the wire layout never needs a dedicated field for
// it (see the action record wire note).
const actionRiskExecBit = 0x80

// Encode writes m in the canonical little-endian, strictly positional layout:
// Header -> NodeTable -> EdgeTable -> EdgeIndex -> FeatureMatrix ->
// ActionCount -> ActionTable -> ActionIndex -> ClusterAssignments ->
// ClusterCentroids -> UrlBlobLen -> UrlBlob -> UrlOffsets -> CRC32.
func Encode(m *SiteMap) ([]byte, error) {
	var buf bytes.Buffer
	n := uint32(len(m.Nodes))

	writeU32(&buf, FormatMagic)
	writeU16(&buf, FormatVersion)
	writeU16(&buf, uint16(len(m.Domain)))
	buf.WriteString(m.Domain)
	writeU64(&buf, uint64(m.MappedAt.UTC().Unix()))
	writeU32(&buf, n)
	writeU32(&buf, uint32(len(m.Edges)))
	writeU16(&buf, uint16(len(m.Clusters.Centroids)))
	writeU16(&buf, uint16(m.FormatFlags))

	for _, nd := range m.Nodes {
		buf.WriteByte(byte(nd.PageType))
		buf.WriteByte(nd.Confidence)
		buf.WriteByte(nd.Freshness)
		writeU32(&buf, uint32(nd.Flags))
		writeU32(&buf, nd.ContentHash)
		writeU32(&buf, nd.RenderedAt)
		writeU16(&buf, nd.HTTPStatus)
		writeU16(&buf, nd.Depth)
		writeU16(&buf, nd.InboundCount)
		writeU16(&buf, nd.OutboundCount)
		writeF32(&buf, nd.FeatureNorm)
		writeU32(&buf, 0) // reserved
	}

	for _, e := range m.Edges {
		writeU32(&buf, e.TargetNode)
		buf.WriteByte(byte(e.EdgeType))
		buf.WriteByte(e.Weight)
		buf.WriteByte(e.Flags)
	}
	for _, idx := range m.EdgeIndex {
		writeU32(&buf, idx)
	}

	for _, row := range m.Features {
		for d := 0; d < FeatureDim; d++ {
			writeF32(&buf, row[d])
		}
	}

	writeU32(&buf, uint32(len(m.Actions)))
	for _, a := range m.Actions {
		writeU16(&buf, a.Opcode)
		writeI32(&buf, a.TargetNode)
		buf.WriteByte(a.CostHint)
		risk := a.Risk &^ actionRiskExecBit
		if a.HTTPExecutable {
			risk |= actionRiskExecBit
		}
		buf.WriteByte(risk)
	}
	for _, idx := range m.ActionIndex {
		writeU32(&buf, idx)
	}

	for _, c := range m.Clusters.Assignment {
		writeU16(&buf, c)
	}
	for _, centroid := range m.Clusters.Centroids {
		for d := 0; d < FeatureDim; d++ {
			writeF32(&buf, centroid[d])
		}
	}

	var urlBlob bytes.Buffer
	offsets := make([]uint32, len(m.URLs))
	for i, u := range m.URLs {
		offsets[i] = uint32(urlBlob.Len())
		urlBlob.WriteString(u)
		urlBlob.WriteByte(0)
	}
	writeU32(&buf, uint32(urlBlob.Len()))
	buf.Write(urlBlob.Bytes())
	for _, off := range offsets {
		writeU32(&buf, off)
	}

	checksum := crc32.ChecksumIEEE(buf.Bytes())
	writeU32(&buf, checksum)

	return buf.Bytes(), nil
}

// Decode parses bytes produced by Encode, validating the checksum, magic and
// version before trusting any content.
func Decode(data []byte) (*SiteMap, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: file too short", cerr.ErrTruncated)
	}
	body := data[:len(data)-4]
	storedChecksum := binary.LittleEndian.Uint32(data[len(data)-4:])
	computed := crc32.ChecksumIEEE(body)
	if storedChecksum != computed {
		return nil, fmt.Errorf("%w: stored 0x%08X, computed 0x%08X", cerr.ErrChecksumMismatch, storedChecksum, computed)
	}

	r := bytes.NewReader(body)
	magic, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if magic != FormatMagic {
		return nil, fmt.Errorf("%w: expected 0x%08X, got 0x%08X", cerr.ErrBadMagic, FormatMagic, magic)
	}
	version, err := readU16(r)
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", cerr.ErrUnsupportedVersion, FormatVersion, version)
	}

	domainLen, err := readU16(r)
	if err != nil {
		return nil, err
	}
	domainBytes := make([]byte, domainLen)
	if _, err := readFull(r, domainBytes); err != nil {
		return nil, err
	}
	domain := string(domainBytes)

	mappedAtSec, err := readU64(r)
	if err != nil {
		return nil, err
	}
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	edgeCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	clusterCount16, err := readU16(r)
	if err != nil {
		return nil, err
	}
	flags16, err := readU16(r)
	if err != nil {
		return nil, err
	}
	clusterCount := uint32(clusterCount16)

	m := &SiteMap{
		Domain:      domain,
		MappedAt:    time.Unix(int64(mappedAtSec), 0).UTC(),
		FormatFlags: uint32(flags16),
	}

	m.Nodes = make([]Node, n)
	for i := range m.Nodes {
		var nd Node
		pt, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		nd.PageType = PageType(pt)
		conf, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		nd.Confidence = conf
		fresh, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		nd.Freshness = fresh
		flags, err := readU32(r)
		if err != nil {
			return nil, err
		}
		nd.Flags = NodeFlags(flags)
		if nd.ContentHash, err = readU32(r); err != nil {
			return nil, err
		}
		if nd.RenderedAt, err = readU32(r); err != nil {
			return nil, err
		}
		if nd.HTTPStatus, err = readU16(r); err != nil {
			return nil, err
		}
		if nd.Depth, err = readU16(r); err != nil {
			return nil, err
		}
		if nd.InboundCount, err = readU16(r); err != nil {
			return nil, err
		}
		if nd.OutboundCount, err = readU16(r); err != nil {
			return nil, err
		}
		if nd.FeatureNorm, err = readF32(r); err != nil {
			return nil, err
		}
		if _, err = readU32(r); err != nil { // reserved
			return nil, err
		}
		m.Nodes[i] = nd
	}

	m.Edges = make([]Edge, edgeCount)
	for i := range m.Edges {
		var e Edge
		if e.TargetNode, err = readU32(r); err != nil {
			return nil, err
		}
		et, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		e.EdgeType = EdgeType(et)
		if e.Weight, err = r.ReadByte(); err != nil {
			return nil, err
		}
		if e.Flags, err = r.ReadByte(); err != nil {
			return nil, err
		}
		m.Edges[i] = e
	}
	m.EdgeIndex = make([]uint32, n+1)
	for i := range m.EdgeIndex {
		if m.EdgeIndex[i], err = readU32(r); err != nil {
			return nil, err
		}
	}

	m.Features = make([][]float32, n)
	for i := range m.Features {
		row := make([]float32, FeatureDim)
		for d := 0; d < FeatureDim; d++ {
			if row[d], err = readF32(r); err != nil {
				return nil, err
			}
		}
		m.Features[i] = row
	}

	actionCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	m.Actions = make([]ActionRecord, actionCount)
	for i := range m.Actions {
		var a ActionRecord
		if a.Opcode, err = readU16(r); err != nil {
			return nil, err
		}
		if a.TargetNode, err = readI32(r); err != nil {
			return nil, err
		}
		if a.CostHint, err = r.ReadByte(); err != nil {
			return nil, err
		}
		riskByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		a.HTTPExecutable = riskByte&actionRiskExecBit != 0
		a.Risk = riskByte &^ actionRiskExecBit
		m.Actions[i] = a
	}
	m.ActionIndex = make([]uint32, n+1)
	for i := range m.ActionIndex {
		if m.ActionIndex[i], err = readU32(r); err != nil {
			return nil, err
		}
	}

	m.Clusters.Assignment = make([]uint16, n)
	for i := range m.Clusters.Assignment {
		if m.Clusters.Assignment[i], err = readU16(r); err != nil {
			return nil, err
		}
	}
	m.Clusters.Centroids = make([][]float32, clusterCount)
	for i := range m.Clusters.Centroids {
		row := make([]float32, FeatureDim)
		for d := 0; d < FeatureDim; d++ {
			if row[d], err = readF32(r); err != nil {
				return nil, err
			}
		}
		m.Clusters.Centroids[i] = row
	}

	blobLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	blob := make([]byte, blobLen)
	if blobLen > 0 {
		if _, err := r.Read(blob); err != nil {
			return nil, fmt.Errorf("%w: reading url blob: %v", cerr.ErrTruncated, err)
		}
	}
	offsets := make([]uint32, n)
	for i := range offsets {
		if offsets[i], err = readU32(r); err != nil {
			return nil, err
		}
	}
	m.URLs = make([]string, n)
	for i, off := range offsets {
		if int(off) > len(blob) {
			return nil, fmt.Errorf("%w: url offset out of range", cerr.ErrTruncated)
		}
		end := bytes.IndexByte(blob[off:], 0)
		if end < 0 {
			m.URLs[i] = string(blob[off:])
		} else {
			m.URLs[i] = string(blob[off : int(off)+end])
		}
	}

	return m, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
func writeI32(buf *bytes.Buffer, v int32) { writeU32(buf, uint32(v)) }
func writeF32(buf *bytes.Buffer, v float32) {
	writeU32(buf, math.Float32bits(v))
}
func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}
func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
func readI32(r *bytes.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}
func readF32(r *bytes.Reader) (float32, error) {
	v, err := readU32(r)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}
func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil {
		return n, fmt.Errorf("%w: %v", cerr.ErrTruncated, err)
	}
	if n != len(b) {
		return n, fmt.Errorf("%w: expected %d bytes, got %d", cerr.ErrTruncated, len(b), n)
	}
	return n, nil
}
