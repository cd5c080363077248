package visualstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"cortex/internal/cerr"
)

// idleTimeout is how long a session may go without a capture or touch before
// Expired reports it expired. Nothing in this package closes an expired
// session.
const idleTimeout = 5 * time.Minute

// absoluteTimeout is how long after opening Expired reports a session
// expired, even if active.
const absoluteTimeout = 30 * time.Minute

// autoSaveInterval is the minimum time since the last save before a capture
// call triggers an automatic save.
const autoSaveInterval = 30 * time.Second

// Embedder produces a dense vector for an image. Its zero-vector, no-error
// contract on a missing model is the same one internal/embedding.Engine
// implements; ImageBytes are whatever CaptureFromFile/CaptureFromBase64
// read off disk or decoded from base64 before thumbnailing.
type Embedder interface {
	Embed(ctx context.Context, imageBytes []byte) []float32
	Dimension() int
}

// Session manages one vision file's lifecycle: load-or-create, capture,
// compare, diff, similarity search, and atomic persistence, plus the idle
// and absolute timeouts that bound how long it may be reused.
type Session struct {
	mu sync.Mutex

	id       string
	store    *Store
	embedder Embedder
	path     string

	currentSessionID uint32
	dirty            bool
	openedAt         time.Time
	lastActivity     time.Time
	lastSave         time.Time
}

// Open loads an existing .avis file at path, or creates a new store with
// embedder's dimension if none exists.
func Open(path string, embedder Embedder) (*Session, error) {
	var store *Store
	if data, err := os.ReadFile(path); err == nil {
		decoded, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decoding vision file: %w", err)
		}
		store = decoded
	} else if os.IsNotExist(err) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating vision directory: %w", err)
			}
		}
		store = NewStore(embedder.Dimension())
	} else {
		return nil, fmt.Errorf("opening vision file: %w", err)
	}

	now := time.Now()
	return &Session{
		id:               uuid.NewString(),
		store:            store,
		embedder:         embedder,
		path:             path,
		currentSessionID: store.SessionCount + 1,
		openedAt:         now,
		lastActivity:     now,
		lastSave:         now,
	}, nil
}

// ID returns the session's own identifier (distinct from CurrentSessionID,
// which numbers capture batches within the store).
func (s *Session) ID() string { return s.id }

// CurrentSessionID returns the capture-session number new captures are
// tagged with.
func (s *Session) CurrentSessionID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSessionID
}

// Expired reports whether the session has crossed its idle or absolute
// timeout as of now.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity) > idleTimeout || now.Sub(s.openedAt) > absoluteTimeout
}

func (s *Session) touch() { s.lastActivity = time.Now() }

// StartSession begins a new capture-session number, explicit or auto-
// incremented.
func (s *Session) StartSession(explicitID *uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	id := s.currentSessionID + 1
	if explicitID != nil {
		id = *explicitID
	}
	s.currentSessionID = id
	if id > s.store.SessionCount {
		s.store.SessionCount = id
	}
	return id
}

// EndSession saves the store and returns the session id that was active.
func (s *Session) EndSession() (uint32, error) {
	s.mu.Lock()
	id := s.currentSessionID
	s.mu.Unlock()
	return id, s.Save()
}

// CaptureResult summarizes a successful capture.
type CaptureResult struct {
	CaptureID     uint64
	Timestamp     time.Time
	Width, Height int
	EmbeddingDims int
}

// Capture acquires an image from source ("file" or "base64"), thumbnails
// it, embeds it, appends it to the store, and may auto-save.
func (s *Session) Capture(ctx context.Context, sourceType, sourceData, mime string, labels []string, description string) (CaptureResult, error) {
	var img image.Image
	var source CaptureSource
	var rawImage []byte
	var err error

	switch sourceType {
	case "file":
		rawImage, err = os.ReadFile(sourceData)
		if err != nil {
			return CaptureResult{}, fmt.Errorf("reading capture file: %w", err)
		}
		img, source, err = CaptureFromFile(sourceData)
	case "base64":
		if mime == "" {
			mime = "image/png"
		}
		rawImage, err = base64.StdEncoding.DecodeString(sourceData)
		if err != nil {
			return CaptureResult{}, fmt.Errorf("decoding base64 capture: %w", err)
		}
		img, source, err = CaptureFromBase64(sourceData, mime)
	default:
		return CaptureResult{}, fmt.Errorf("%w: unsupported source type %q", cerr.ErrBadID, sourceType)
	}
	if err != nil {
		return CaptureResult{}, err
	}

	origBounds := img.Bounds()
	origW, origH := origBounds.Dx(), origBounds.Dy()

	thumbnail := GenerateThumbnail(img)
	thumbW, thumbH, err := decodeDims(thumbnail)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("loading generated thumbnail: %w", err)
	}

	embedding := s.embedder.Embed(ctx, rawImage)

	now := time.Now()
	s.mu.Lock()
	obs := VisualObservation{
		Timestamp: now,
		SessionID: s.currentSessionID,
		Source:    source,
		Embedding: embedding,
		Thumbnail: thumbnail,
		Metadata: ObservationMeta{
			Width:          uint32(thumbW),
			Height:         uint32(thumbH),
			OriginalWidth:  uint32(origW),
			OriginalHeight: uint32(origH),
			Labels:         labels,
			Description:    description,
		},
	}
	id := s.store.Add(obs)
	s.dirty = true
	s.touch()
	s.mu.Unlock()

	if err := s.maybeAutoSave(); err != nil {
		return CaptureResult{}, err
	}

	return CaptureResult{
		CaptureID:     id,
		Timestamp:     now,
		Width:         origW,
		Height:        origH,
		EmbeddingDims: s.embedder.Dimension(),
	}, nil
}

// Compare returns the cosine similarity between two captures' embeddings.
func (s *Session) Compare(idA, idB uint64) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.store.Get(idA)
	if !ok {
		return 0, fmt.Errorf("%w: %d", cerr.ErrCaptureNotFound, idA)
	}
	b, ok := s.store.Get(idB)
	if !ok {
		return 0, fmt.Errorf("%w: %d", cerr.ErrCaptureNotFound, idB)
	}
	return CosineSimilarity(a.Embedding, b.Embedding), nil
}

// FindSimilar returns up to topK matches for capture_id's embedding,
// excluding the capture itself.
func (s *Session) FindSimilar(captureID uint64, topK int, minSimilarity float32) ([]SimilarityMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs, ok := s.store.Get(captureID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", cerr.ErrCaptureNotFound, captureID)
	}
	matches := FindSimilar(obs.Embedding, s.store.Observations, topK+1, minSimilarity)
	out := matches[:0]
	for _, m := range matches {
		if m.ID != captureID {
			out = append(out, m)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// FindSimilarByEmbedding runs a raw-vector similarity search with no
// source capture to exclude.
func (s *Session) FindSimilarByEmbedding(embedding []float32, topK int, minSimilarity float32) []SimilarityMatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FindSimilar(embedding, s.store.Observations, topK, minSimilarity)
}

// Diff computes a pixel-level VisualDiff between two captures' thumbnails.
func (s *Session) Diff(idA, idB uint64) (VisualDiff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.store.Get(idA)
	if !ok {
		return VisualDiff{}, fmt.Errorf("%w: %d", cerr.ErrCaptureNotFound, idA)
	}
	b, ok := s.store.Get(idB)
	if !ok {
		return VisualDiff{}, fmt.Errorf("%w: %d", cerr.ErrCaptureNotFound, idB)
	}
	return ComputeDiff(idA, idB, a.Thumbnail, b.Thumbnail)
}

// Link sets a capture's memory_link back-reference.
func (s *Session) Link(captureID, memoryNodeID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	return s.store.Link(captureID, memoryNodeID)
}

// BySession, InTimeRange, and Recent expose Store's read queries under the
// session lock.
func (s *Session) BySession(sessionID uint32) []*VisualObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.BySession(sessionID)
}

func (s *Session) InTimeRange(start, end time.Time) []*VisualObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.InTimeRange(start, end)
}

func (s *Session) Recent(limit int) []*VisualObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Recent(limit)
}

func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Count()
}

// Get looks up a single observation by id.
func (s *Session) Get(id uint64) (*VisualObservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Get(id)
}

// Save rewrites the vision file atomically if dirty; a clean session is a
// no-op.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Session) saveLocked() error {
	if !s.dirty {
		return nil
	}
	data := Encode(s.store)
	if err := atomicWriteFile(s.path, data); err != nil {
		return err
	}
	s.dirty = false
	s.lastSave = time.Now()
	return nil
}

func (s *Session) maybeAutoSave() error {
	s.mu.Lock()
	shouldSave := s.dirty && time.Since(s.lastSave) >= autoSaveInterval
	s.mu.Unlock()
	if shouldSave {
		return s.Save()
	}
	return nil
}

// Close saves any pending changes. Callers should invoke this when a
// session is torn down, mirroring the "drop path saves if dirty" lifecycle
// rule.
func (s *Session) Close() error {
	return s.Save()
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
