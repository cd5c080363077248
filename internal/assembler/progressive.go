package assembler

import (
	"sort"

	"cortex/internal/sitemap"
)

// RenderCandidate is one unrendered node queued for a future L3 pass.
type RenderCandidate struct {
	NodeIndex int
	URL       string
	Priority  float64
}

// SelectUnrendered scans m for nodes missing FlagRendered and returns up to
// batchSize of them ordered by descending priority: inbound link count,
// closeness to root, and a boost for page types with fewer than 2 rendered
// instances so far.
func SelectUnrendered(m *sitemap.SiteMap, batchSize int) []RenderCandidate {
	renderedPerType := map[sitemap.PageType]int{}
	for _, n := range m.Nodes {
		if n.Flags&sitemap.FlagRendered != 0 {
			renderedPerType[n.PageType]++
		}
	}

	var candidates []RenderCandidate
	for i, n := range m.Nodes {
		if n.Flags&sitemap.FlagRendered != 0 {
			continue
		}
		candidates = append(candidates, RenderCandidate{
			NodeIndex: i,
			URL:       m.URLs[i],
			Priority:  renderPriority(m, i, renderedPerType),
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].Priority > candidates[b].Priority })
	if batchSize > 0 && len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}
	return candidates
}

func renderPriority(m *sitemap.SiteMap, nodeIndex int, renderedPerType map[sitemap.PageType]int) float64 {
	score := float64(m.Nodes[nodeIndex].InboundCount) * 2.0
	score += 10.0 / (1.0 + float64(m.Nodes[nodeIndex].Depth))
	if renderedPerType[m.Nodes[nodeIndex].PageType] < minTypeRepresentation {
		score += underrepresentedTypeBoost
	}
	return score
}

// ProgressiveQueue drains RenderCandidates in priority order across
// multiple background passes, re-filled as new candidates show up.
type ProgressiveQueue struct {
	items []RenderCandidate
}

// NewProgressiveQueue seeds a queue from an initial candidate batch,
// ordered by descending priority.
func NewProgressiveQueue(items []RenderCandidate) *ProgressiveQueue {
	q := &ProgressiveQueue{items: append([]RenderCandidate(nil), items...)}
	sort.SliceStable(q.items, func(a, b int) bool { return q.items[a].Priority > q.items[b].Priority })
	return q
}

// Next pops the highest-priority candidate, or ok=false if the queue is empty.
func (q *ProgressiveQueue) Next() (RenderCandidate, bool) {
	if len(q.items) == 0 {
		return RenderCandidate{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len reports how many candidates remain.
func (q *ProgressiveQueue) Len() int { return len(q.items) }

// Refill appends more candidates, keeping the queue priority-sorted.
func (q *ProgressiveQueue) Refill(items []RenderCandidate) {
	q.items = append(q.items, items...)
	sort.SliceStable(q.items, func(a, b int) bool { return q.items[a].Priority > q.items[b].Priority })
}
