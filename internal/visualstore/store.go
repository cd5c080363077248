package visualstore

import (
	"sort"
	"time"

	"cortex/internal/cerr"
)

// Store is the in-memory container for all observations in one vision
// file: an append-only log addressed by a monotonically assigned id, plus
// the store-level counters persisted alongside it.
type Store struct {
	Observations []VisualObservation
	EmbeddingDim int
	NextID       uint64
	SessionCount uint32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewStore creates an empty store for embeddings of the given dimension.
func NewStore(embeddingDim int) *Store {
	now := timeNow()
	return &Store{
		EmbeddingDim: embeddingDim,
		NextID:       1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// timeNow exists only so tests can't race on wall-clock precision across
// CreatedAt/UpdatedAt comparisons; production callers get real time.
func timeNow() time.Time { return time.Now() }

// Get looks up an observation by id.
func (s *Store) Get(id uint64) (*VisualObservation, bool) {
	for i := range s.Observations {
		if s.Observations[i].ID == id {
			return &s.Observations[i], true
		}
	}
	return nil, false
}

// Add assigns the next id to obs, appends it, and returns the assigned id.
func (s *Store) Add(obs VisualObservation) uint64 {
	id := s.NextID
	obs.ID = id
	s.NextID++
	s.UpdatedAt = timeNow()
	s.Observations = append(s.Observations, obs)
	return id
}

// Count returns the number of observations in the store.
func (s *Store) Count() int { return len(s.Observations) }

// BySession returns every observation captured under sessionID.
func (s *Store) BySession(sessionID uint32) []*VisualObservation {
	var out []*VisualObservation
	for i := range s.Observations {
		if s.Observations[i].SessionID == sessionID {
			out = append(out, &s.Observations[i])
		}
	}
	return out
}

// InTimeRange returns every observation captured within [start, end].
func (s *Store) InTimeRange(start, end time.Time) []*VisualObservation {
	var out []*VisualObservation
	for i := range s.Observations {
		ts := s.Observations[i].Timestamp
		if !ts.Before(start) && !ts.After(end) {
			out = append(out, &s.Observations[i])
		}
	}
	return out
}

// Recent returns up to limit observations, most recent first.
func (s *Store) Recent(limit int) []*VisualObservation {
	sorted := make([]*VisualObservation, len(s.Observations))
	for i := range s.Observations {
		sorted[i] = &s.Observations[i]
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// Link sets capture id's memory_link back-reference.
func (s *Store) Link(id, memoryNodeID uint64) error {
	obs, ok := s.Get(id)
	if !ok {
		return cerr.ErrCaptureNotFound
	}
	obs.MemoryLink = &memoryNodeID
	return nil
}
