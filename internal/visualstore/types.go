// Package visualstore implements the VisualMemoryStore component: an
// ordered append-only collection of VisualObservations plus the session
// lifecycle, diff, and similarity-search operations built on top of it.
package visualstore

import "time"

// CaptureSourceKind tags which of CaptureSource's fields are populated.
type CaptureSourceKind uint8

const (
	SourceFile CaptureSourceKind = iota
	SourceBase64
	SourceScreenshot
	SourceClipboard
)

// Rect is a pixel-space bounding box.
type Rect struct {
	X, Y, W, H uint32
}

// CaptureSource records how an image was acquired.
type CaptureSource struct {
	Kind   CaptureSourceKind
	Path   string // SourceFile
	Mime   string // SourceBase64
	Region *Rect  // SourceScreenshot, optional
}

// ObservationMeta carries descriptive, non-pixel information about a
// capture.
type ObservationMeta struct {
	Width, Height                 uint32
	OriginalWidth, OriginalHeight uint32
	Labels                        []string
	Description                   string
}

// VisualObservation is one captured and embedded image, permanently
// appended to a VisualMemoryStore; the only field ever mutated in place
// after creation is MemoryLink.
type VisualObservation struct {
	ID         uint64
	Timestamp  time.Time
	SessionID  uint32
	Source     CaptureSource
	Embedding  []float32
	Thumbnail  []byte
	Metadata   ObservationMeta
	MemoryLink *uint64
}

// VisualDiff is the result of comparing two captures' thumbnails.
type VisualDiff struct {
	BeforeID        uint64
	AfterID         uint64
	Similarity      float32
	ChangedRegions  []Rect
	PixelDiffRatio  float32
}

// SimilarityMatch is one hit from a similarity search.
type SimilarityMatch struct {
	ID         uint64
	Similarity float32
}
