// Package query implements the QueryEngine component: filter/nearest/
// shortest-path/cross-site-merge operations over one or more loaded
// SiteMaps, plus a small single-table WQL interpreter, and a standalone
// VectorIndex similarity-search abstraction (Nearest does not call it).
package query

import (
	"context"
	"sort"
	"sync"

	"cortex/internal/sitemap"
)

// VectorIndex is a pluggable similarity-search interface with an in-memory
// implementation below and a qdrant-backed one for cross-process/durable
// search over the same contract. Engine.Nearest scans a map's feature
// matrix directly and does not use it.
type VectorIndex interface {
	Upsert(ctx context.Context, domain string, id int, vector []float32) error
	Delete(ctx context.Context, domain string, id int) error
	Search(ctx context.Context, domain string, vector []float32, k int) ([]ScoredID, error)
}

// ScoredID is one similarity-search hit.
type ScoredID struct {
	ID    int
	Score float64
}

// MemoryVectorIndex is a cosine-similarity brute-force VectorIndex, grounded
// on the same shape as the in-memory vector store used elsewhere in the
// stack: a mutex-guarded map of vectors keyed by domain then id.
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	vectors map[string]map[int][]float32
}

// NewMemoryVectorIndex creates an empty in-memory index.
func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{vectors: make(map[string]map[int][]float32)}
}

func (m *MemoryVectorIndex) Upsert(_ context.Context, domain string, id int, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vectors[domain] == nil {
		m.vectors[domain] = make(map[int][]float32)
	}
	row := make([]float32, len(vector))
	copy(row, vector)
	m.vectors[domain][id] = row
	return nil
}

func (m *MemoryVectorIndex) Delete(_ context.Context, domain string, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectors[domain], id)
	return nil
}

func (m *MemoryVectorIndex) Search(_ context.Context, domain string, vector []float32, k int) ([]ScoredID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ScoredID
	for id, v := range m.vectors[domain] {
		out = append(out, ScoredID{ID: id, Score: sitemap.CosineSimilarity(vector, v)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}
