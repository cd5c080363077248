package query

import (
	"container/heap"
	"sort"

	"cortex/internal/sitemap"
)

// FeatureRange constrains a single feature dimension to an optional
// [Min, Max] window; a nil bound is unconstrained on that side.
type FeatureRange struct {
	Dimension int
	Min       *float32
	Max       *float32
}

// FilterQuery describes a Filter call. A zero value matches every node.
type FilterQuery struct {
	PageTypes     []sitemap.PageType // empty = any
	FeatureRanges []FeatureRange
	RequireFlags  sitemap.NodeFlags
	ForbidFlags   sitemap.NodeFlags
	URLPrefix     string
	MaxResults    int
}

// FilterResult is one node matching a FilterQuery.
type FilterResult struct {
	Domain     string
	Index      int
	URL        string
	PageType   sitemap.PageType
	Confidence uint8
}

// Engine runs read-only queries over a set of loaded SiteMaps, keyed by
// domain. Nearest prunes its candidate set with each map's own cluster
// centroids.
type Engine struct {
	maps  map[string]*sitemap.SiteMap
	order []string // insertion order, for deterministic cross-site merges
}

// NewEngine creates an engine with no maps loaded.
func NewEngine() *Engine {
	return &Engine{maps: make(map[string]*sitemap.SiteMap)}
}

// Load adds or replaces the map for a domain.
func (e *Engine) Load(m *sitemap.SiteMap) {
	if _, exists := e.maps[m.Domain]; !exists {
		e.order = append(e.order, m.Domain)
	}
	e.maps[m.Domain] = m
}

// Unload drops a domain's map.
func (e *Engine) Unload(domain string) {
	delete(e.maps, domain)
	for i, d := range e.order {
		if d == domain {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func matchesQuery(m *sitemap.SiteMap, idx int, q FilterQuery) bool {
	n := m.Nodes[idx]

	if len(q.PageTypes) > 0 {
		found := false
		for _, pt := range q.PageTypes {
			if n.PageType == pt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if n.Flags&q.RequireFlags != q.RequireFlags {
		return false
	}
	if n.Flags&q.ForbidFlags != 0 {
		return false
	}

	if q.URLPrefix != "" {
		u := m.URLs[idx]
		if len(u) < len(q.URLPrefix) || u[:len(q.URLPrefix)] != q.URLPrefix {
			return false
		}
	}

	for _, r := range q.FeatureRanges {
		if r.Dimension < 0 || r.Dimension >= sitemap.FeatureDim {
			continue
		}
		v := m.Features[idx][r.Dimension]
		if r.Min != nil && v < *r.Min {
			return false
		}
		if r.Max != nil && v > *r.Max {
			return false
		}
	}

	return true
}

// Filter selects nodes from one domain's loaded map matching q, ordered by
// descending confidence then ascending index.
func (e *Engine) Filter(domain string, q FilterQuery) []FilterResult {
	m, ok := e.maps[domain]
	if !ok {
		return nil
	}
	return filterOne(m, q)
}

func filterOne(m *sitemap.SiteMap, q FilterQuery) []FilterResult {
	var out []FilterResult
	for i := range m.Nodes {
		if !matchesQuery(m, i, q) {
			continue
		}
		out = append(out, FilterResult{
			Domain:     m.Domain,
			Index:      i,
			URL:        m.URLs[i],
			PageType:   m.Nodes[i].PageType,
			Confidence: m.Nodes[i].Confidence,
		})
	}
	sortResults(out)
	if q.MaxResults > 0 && len(out) > q.MaxResults {
		out = out[:q.MaxResults]
	}
	return out
}

func sortResults(out []FilterResult) {
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Confidence != out[b].Confidence {
			return out[a].Confidence > out[b].Confidence
		}
		return out[a].Index < out[b].Index
	})
}

// FilterAllDomains applies q across every loaded map (cross-site merge),
// tagging each result with its domain and merging by descending confidence.
func (e *Engine) FilterAllDomains(q FilterQuery) []FilterResult {
	var out []FilterResult
	for _, d := range e.order {
		out = append(out, filterOne(e.maps[d], q)...)
	}
	sortResults(out)
	if q.MaxResults > 0 && len(out) > q.MaxResults {
		out = out[:q.MaxResults]
	}
	return out
}

// NearestResult is one hit from Nearest, tagged with its domain so
// cross-site callers can distinguish results from different maps.
type NearestResult struct {
	Domain     string
	Index      int
	URL        string
	Similarity float64
}

// Nearest performs an exact cosine-similarity scan over domain's map,
// using the cluster index as a pruning hint: centroids are ranked by
// distance to target, and clusters are visited in that order until at
// least 2k candidates have been collected (falling back to a full scan
// when no clusters were computed). Ties broken by smaller index.
func (e *Engine) Nearest(domain string, target []float32, k int) []NearestResult {
	m, ok := e.maps[domain]
	if !ok {
		return nil
	}
	return nearestOne(m, target, k)
}

func nearestOne(m *sitemap.SiteMap, target []float32, k int) []NearestResult {
	candidates := pruneByClusters(m, target, k)

	out := make([]NearestResult, 0, len(candidates))
	for _, idx := range candidates {
		sim := sitemap.CosineSimilarity(target, m.Features[idx])
		out = append(out, NearestResult{Domain: m.Domain, Index: idx, URL: m.URLs[idx], Similarity: sim})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Similarity != out[b].Similarity {
			return out[a].Similarity > out[b].Similarity
		}
		return out[a].Index < out[b].Index
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// pruneByClusters returns candidate node indexes ordered by ascending
// centroid distance to target, visiting whole clusters until 2k have
// been collected. Falls back to every node when clustering is absent.
func pruneByClusters(m *sitemap.SiteMap, target []float32, k int) []int {
	if len(m.Clusters.Centroids) == 0 || k <= 0 {
		all := make([]int, len(m.Nodes))
		for i := range all {
			all[i] = i
		}
		return all
	}

	type rankedCluster struct {
		id   int
		dist float64
	}
	ranked := make([]rankedCluster, len(m.Clusters.Centroids))
	for c, centroid := range m.Clusters.Centroids {
		ranked[c] = rankedCluster{id: c, dist: squaredDistanceF64(target, centroid)}
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].dist < ranked[b].dist })

	byCluster := make(map[int][]int)
	for i, assign := range m.Clusters.Assignment {
		byCluster[int(assign)] = append(byCluster[int(assign)], i)
	}

	want := 2 * k
	var candidates []int
	for _, rc := range ranked {
		candidates = append(candidates, byCluster[rc.id]...)
		if len(candidates) >= want {
			break
		}
	}
	return candidates
}

func squaredDistanceF64(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

// NearestAllDomains runs Nearest against every loaded map and merges by
// descending similarity.
func (e *Engine) NearestAllDomains(target []float32, k int) []NearestResult {
	var out []NearestResult
	for _, d := range e.order {
		out = append(out, nearestOne(e.maps[d], target, k)...)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Similarity != out[b].Similarity {
			return out[a].Similarity > out[b].Similarity
		}
		return out[a].Index < out[b].Index
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// PathConstraints gates which edges ShortestPath may traverse.
type PathConstraints struct {
	// MaxRisk is the action risk threshold. When ForbidOverRisk is set, the
	// outbound edges of a node with an action riskier than MaxRisk are not
	// traversed; otherwise each such edge costs its weight plus the largest
	// CostHint×GateFactor among those actions (GateFactor <= 0 counts as 1).
	MaxRisk        uint8
	ForbidOverRisk bool
	GateFactor     float64
	// AllowAuthRequired permits EdgeFlagAuthRequired edges; when false
	// they are filtered out entirely.
	AllowAuthRequired bool
}

// RequiredAction names an action a path's traversal depends on.
type RequiredAction struct {
	AtNode int
	Opcode uint16
}

// Path is the result of a successful ShortestPath call.
type Path struct {
	Nodes           []int
	Hops            int
	TotalWeight     float64
	RequiredActions []RequiredAction
}

type pathQueueItem struct {
	node int
	dist float64
	idx  int // heap index
}

type pathQueue []*pathQueueItem

func (q pathQueue) Len() int            { return len(q) }
func (q pathQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q pathQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].idx, q[j].idx = i, j }
func (q *pathQueue) Push(x interface{}) {
	item := x.(*pathQueueItem)
	item.idx = len(*q)
	*q = append(*q, item)
}
func (q *pathQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// ShortestPath runs Dijkstra over domain's map from `from` to `to`, honoring
// constraints on action-gated edges. Self-loops cost their own weight;
// parallel edges between the same pair of nodes are all considered.
func (e *Engine) ShortestPath(domain string, from, to int, constraints PathConstraints) (*Path, bool) {
	m, ok := e.maps[domain]
	if !ok {
		return nil, false
	}
	if from < 0 || from >= len(m.Nodes) || to < 0 || to >= len(m.Nodes) {
		return nil, false
	}
	if constraints.GateFactor <= 0 {
		constraints.GateFactor = 1
	}

	n := len(m.Nodes)
	dist := make([]float64, n)
	prev := make([]int, n)
	for i := range dist {
		dist[i] = -1
		prev[i] = -1
	}
	dist[from] = 0

	pq := &pathQueue{}
	heap.Init(pq)
	heap.Push(pq, &pathQueueItem{node: from, dist: 0})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*pathQueueItem)
		if cur.dist > dist[cur.node] {
			continue
		}
		if cur.node == to {
			break
		}
		for _, edge := range m.EdgesFrom(cur.node) {
			if edge.Flags&sitemap.EdgeFlagAuthRequired != 0 && !constraints.AllowAuthRequired {
				continue
			}
			penalty := actionCostPenalty(m, cur.node, constraints)
			if penalty < 0 {
				continue // forbidden by risk threshold
			}
			cost := float64(edge.Weight) + penalty
			target := int(edge.TargetNode)
			if target < 0 || target >= n {
				continue
			}
			next := cur.dist + cost
			if dist[target] == -1 || next < dist[target] {
				dist[target] = next
				prev[target] = cur.node
				heap.Push(pq, &pathQueueItem{node: target, dist: next})
			}
		}
	}

	if dist[to] == -1 {
		return nil, false
	}

	var nodes []int
	for at := to; at != -1; at = prev[at] {
		nodes = append([]int{at}, nodes...)
		if at == from {
			break
		}
	}

	var required []RequiredAction
	for _, nodeIdx := range nodes {
		for _, a := range m.ActionsFrom(nodeIdx) {
			if a.Risk > constraints.MaxRisk {
				required = append(required, RequiredAction{AtNode: nodeIdx, Opcode: a.Opcode})
			}
		}
	}

	return &Path{
		Nodes:           nodes,
		Hops:            len(nodes) - 1,
		TotalWeight:     dist[to],
		RequiredActions: required,
	}, true
}

// actionCostPenalty folds a node's over-threshold actions into its outbound
// edge cost per constraints: forbidden (-1 sentinel) if ForbidOverRisk is
// set, else the largest CostHint scaled by GateFactor, added to the weight.
func actionCostPenalty(m *sitemap.SiteMap, node int, constraints PathConstraints) float64 {
	var penalty float64
	for _, a := range m.ActionsFrom(node) {
		if a.Risk <= constraints.MaxRisk {
			continue
		}
		if constraints.ForbidOverRisk {
			return -1
		}
		p := float64(a.CostHint) * constraints.GateFactor
		if p > penalty {
			penalty = p
		}
	}
	return penalty
}
