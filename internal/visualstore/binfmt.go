package visualstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"cortex/internal/cerr"
)

// avisMagic is "AVIS" read as a big-endian u32, matching the .ctx format's
// convention of a four-byte ASCII magic.
const avisMagic uint32 = 0x41_56_49_53

const avisVersion uint16 = 1

// Encode serializes a Store to its self-describing .avis byte layout:
// header, then each observation length-prefixed, then a trailing CRC32
// over everything preceding it.
func Encode(s *Store) []byte {
	var buf bytes.Buffer

	writeU32(&buf, avisMagic)
	writeU16(&buf, avisVersion)
	writeU32(&buf, uint32(s.EmbeddingDim))
	writeU64(&buf, s.NextID)
	writeU32(&buf, s.SessionCount)
	writeU64(&buf, uint64(s.CreatedAt.Unix()))
	writeU64(&buf, uint64(s.UpdatedAt.Unix()))
	writeU32(&buf, uint32(len(s.Observations)))

	for _, obs := range s.Observations {
		writeObservation(&buf, obs)
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	writeU32(&buf, sum)
	return buf.Bytes()
}

func writeObservation(buf *bytes.Buffer, obs VisualObservation) {
	writeU64(buf, obs.ID)
	writeU64(buf, uint64(obs.Timestamp.Unix()))
	writeU32(buf, obs.SessionID)
	writeSource(buf, obs.Source)
	writeU32(buf, uint32(len(obs.Embedding)))
	for _, v := range obs.Embedding {
		writeF32(buf, v)
	}
	writeU32(buf, uint32(len(obs.Thumbnail)))
	buf.Write(obs.Thumbnail)
	writeMeta(buf, obs.Metadata)
	if obs.MemoryLink != nil {
		buf.WriteByte(1)
		writeU64(buf, *obs.MemoryLink)
	} else {
		buf.WriteByte(0)
	}
}

func writeSource(buf *bytes.Buffer, src CaptureSource) {
	buf.WriteByte(byte(src.Kind))
	switch src.Kind {
	case SourceFile:
		writeString(buf, src.Path)
	case SourceBase64:
		writeString(buf, src.Mime)
	case SourceScreenshot:
		if src.Region != nil {
			buf.WriteByte(1)
			writeU32(buf, src.Region.X)
			writeU32(buf, src.Region.Y)
			writeU32(buf, src.Region.W)
			writeU32(buf, src.Region.H)
		} else {
			buf.WriteByte(0)
		}
	case SourceClipboard:
		// no payload
	}
}

func writeMeta(buf *bytes.Buffer, m ObservationMeta) {
	writeU32(buf, m.Width)
	writeU32(buf, m.Height)
	writeU32(buf, m.OriginalWidth)
	writeU32(buf, m.OriginalHeight)
	writeU32(buf, uint32(len(m.Labels)))
	for _, l := range m.Labels {
		writeString(buf, l)
	}
	writeString(buf, m.Description)
}

// Decode parses bytes produced by Encode back into a Store, validating the
// trailing CRC32, magic, and version before trusting any other content.
func Decode(data []byte) (*Store, error) {
	if len(data) < 4 {
		return nil, cerr.ErrChecksumMismatch
	}

	body := data[:len(data)-4]
	storedSum := binary.LittleEndian.Uint32(data[len(data)-4:])
	computedSum := crc32.ChecksumIEEE(body)
	if storedSum != computedSum {
		return nil, fmt.Errorf("%w: stored 0x%08X, computed 0x%08X", cerr.ErrChecksumMismatch, storedSum, computedSum)
	}

	r := bytes.NewReader(body)

	magic, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if magic != avisMagic {
		return nil, fmt.Errorf("%w: expected 0x%08X, got 0x%08X", cerr.ErrBadMagic, avisMagic, magic)
	}

	version, err := readU16(r)
	if err != nil {
		return nil, err
	}
	if version != avisVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", cerr.ErrUnsupportedVersion, avisVersion, version)
	}

	embeddingDim, err := readU32(r)
	if err != nil {
		return nil, err
	}
	nextID, err := readU64(r)
	if err != nil {
		return nil, err
	}
	sessionCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	createdAt, err := readU64(r)
	if err != nil {
		return nil, err
	}
	updatedAt, err := readU64(r)
	if err != nil {
		return nil, err
	}
	obsCount, err := readU32(r)
	if err != nil {
		return nil, err
	}

	s := &Store{
		EmbeddingDim: int(embeddingDim),
		NextID:       nextID,
		SessionCount: sessionCount,
		CreatedAt:    time.Unix(int64(createdAt), 0).UTC(),
		UpdatedAt:    time.Unix(int64(updatedAt), 0).UTC(),
	}

	for i := uint32(0); i < obsCount; i++ {
		obs, err := readObservation(r)
		if err != nil {
			return nil, err
		}
		s.Observations = append(s.Observations, obs)
	}

	return s, nil
}

func readObservation(r *bytes.Reader) (VisualObservation, error) {
	var obs VisualObservation

	id, err := readU64(r)
	if err != nil {
		return obs, err
	}
	ts, err := readU64(r)
	if err != nil {
		return obs, err
	}
	sessionID, err := readU32(r)
	if err != nil {
		return obs, err
	}
	source, err := readSource(r)
	if err != nil {
		return obs, err
	}

	embedLen, err := readU32(r)
	if err != nil {
		return obs, err
	}
	embedding := make([]float32, embedLen)
	for i := range embedding {
		v, err := readF32(r)
		if err != nil {
			return obs, err
		}
		embedding[i] = v
	}

	thumbLen, err := readU32(r)
	if err != nil {
		return obs, err
	}
	thumbnail := make([]byte, thumbLen)
	if _, err := io.ReadFull(r, thumbnail); err != nil {
		return obs, fmt.Errorf("%w: %v", cerr.ErrTruncated, err)
	}

	meta, err := readMeta(r)
	if err != nil {
		return obs, err
	}

	hasLink, err := r.ReadByte()
	if err != nil {
		return obs, fmt.Errorf("%w: %v", cerr.ErrTruncated, err)
	}
	var memoryLink *uint64
	if hasLink == 1 {
		link, err := readU64(r)
		if err != nil {
			return obs, err
		}
		memoryLink = &link
	}

	obs = VisualObservation{
		ID:         id,
		Timestamp:  time.Unix(int64(ts), 0).UTC(),
		SessionID:  sessionID,
		Source:     source,
		Embedding:  embedding,
		Thumbnail:  thumbnail,
		Metadata:   meta,
		MemoryLink: memoryLink,
	}
	return obs, nil
}

func readSource(r *bytes.Reader) (CaptureSource, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return CaptureSource{}, fmt.Errorf("%w: %v", cerr.ErrTruncated, err)
	}
	kind := CaptureSourceKind(kindByte)
	src := CaptureSource{Kind: kind}

	switch kind {
	case SourceFile:
		s, err := readString(r)
		if err != nil {
			return src, err
		}
		src.Path = s
	case SourceBase64:
		s, err := readString(r)
		if err != nil {
			return src, err
		}
		src.Mime = s
	case SourceScreenshot:
		hasRegion, err := r.ReadByte()
		if err != nil {
			return src, fmt.Errorf("%w: %v", cerr.ErrTruncated, err)
		}
		if hasRegion == 1 {
			x, err := readU32(r)
			if err != nil {
				return src, err
			}
			y, err := readU32(r)
			if err != nil {
				return src, err
			}
			w, err := readU32(r)
			if err != nil {
				return src, err
			}
			h, err := readU32(r)
			if err != nil {
				return src, err
			}
			src.Region = &Rect{X: x, Y: y, W: w, H: h}
		}
	case SourceClipboard:
	}
	return src, nil
}

func readMeta(r *bytes.Reader) (ObservationMeta, error) {
	var m ObservationMeta
	var err error
	if m.Width, err = readU32(r); err != nil {
		return m, err
	}
	if m.Height, err = readU32(r); err != nil {
		return m, err
	}
	if m.OriginalWidth, err = readU32(r); err != nil {
		return m, err
	}
	if m.OriginalHeight, err = readU32(r); err != nil {
		return m, err
	}
	labelCount, err := readU32(r)
	if err != nil {
		return m, err
	}
	m.Labels = make([]string, labelCount)
	for i := range m.Labels {
		s, err := readString(r)
		if err != nil {
			return m, err
		}
		m.Labels[i] = s
	}
	if m.Description, err = readString(r); err != nil {
		return m, err
	}
	return m, nil
}

// --- low-level little-endian helpers, mirroring sitemap's binfmt.go idiom ---

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

func writeF32(buf *bytes.Buffer, v float32) {
	writeU32(buf, math.Float32bits(v))
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", cerr.ErrTruncated, err)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", cerr.ErrTruncated, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", cerr.ErrTruncated, err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readF32(r *bytes.Reader) (float32, error) {
	bits, err := readU32(r)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: %v", cerr.ErrTruncated, err)
	}
	return string(b), nil
}
