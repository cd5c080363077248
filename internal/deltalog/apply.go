package deltalog

import "cortex/internal/sitemap"

// Apply reconstructs the SiteMap that delta was computed against as
// Diff(base, after), i.e. it returns (a map equal to) after given base and
// compute_delta(base, after). Node additions, removals and per-dimension
// feature changes round-trip exactly. Edges and actions are not part of the
// SiteDelta data model: surviving nodes keep their edges/actions remapped
// onto their new indices, edges and actions touching a removed node are
// dropped, and nodes from AddedNodes come back with none.
func Apply(base *sitemap.SiteMap, delta sitemap.SiteDelta) (*sitemap.SiteMap, error) {
	removed := make(map[string]bool, len(delta.NodesRemoved))
	for _, url := range delta.NodesRemoved {
		removed[url] = true
	}
	mods := make(map[string][]sitemap.DimChange, len(delta.NodesModified))
	for _, mod := range delta.NodesModified {
		mods[mod.URL] = mod.ChangedDims
	}

	b := sitemap.NewBuilder(base.Domain)
	oldToNew := make([]int, base.NodeCount())
	for i, url := range base.URLs {
		if removed[url] {
			oldToNew[i] = -1
			continue
		}
		features := append([]float32(nil), base.Features[i]...)
		for _, ch := range mods[url] {
			if int(ch.Dimension) < len(features) {
				features[ch.Dimension] = ch.NewValue
			}
		}
		oldToNew[i] = b.AddNode(url, base.Nodes[i], features)
	}
	for _, snap := range delta.AddedNodes {
		b.AddNode(snap.URL, snap.Node, snap.Features)
	}

	carryEdgesAndActions(b, base, oldToNew)

	m := b.Build()
	m.MappedAt = delta.Timestamp
	m.FormatFlags = base.FormatFlags
	return m, nil
}

// Unapply reconstructs the SiteMap base that delta was computed from, given
// after (the result of Apply(base, delta)) and delta itself. It is Apply's
// exact inverse over node set and feature-dimension changes, subject to the
// same edge/action limitation.
func Unapply(after *sitemap.SiteMap, delta sitemap.SiteDelta) (*sitemap.SiteMap, error) {
	added := make(map[string]bool, len(delta.NodesAdded))
	for _, url := range delta.NodesAdded {
		added[url] = true
	}
	mods := make(map[string][]sitemap.DimChange, len(delta.NodesModified))
	for _, mod := range delta.NodesModified {
		mods[mod.URL] = mod.ChangedDims
	}

	b := sitemap.NewBuilder(after.Domain)
	oldToNew := make([]int, after.NodeCount())
	for i, url := range after.URLs {
		if added[url] {
			oldToNew[i] = -1
			continue
		}
		features := append([]float32(nil), after.Features[i]...)
		for _, ch := range mods[url] {
			if int(ch.Dimension) < len(features) {
				features[ch.Dimension] = ch.OldValue
			}
		}
		oldToNew[i] = b.AddNode(url, after.Nodes[i], features)
	}
	for _, snap := range delta.RemovedNodes {
		b.AddNode(snap.URL, snap.Node, snap.Features)
	}

	carryEdgesAndActions(b, after, oldToNew)

	m := b.Build()
	m.MappedAt = delta.Timestamp
	m.FormatFlags = after.FormatFlags
	return m, nil
}

// carryEdgesAndActions re-adds every edge/action from src whose source node
// survived the old-to-new remapping, dropping (for edges) or unresolving
// (for actions, via the -2 sentinel) those whose target did not.
func carryEdgesAndActions(b *sitemap.Builder, src *sitemap.SiteMap, oldToNew []int) {
	for i := 0; i < src.NodeCount(); i++ {
		newSrc := oldToNew[i]
		if newSrc < 0 {
			continue
		}
		for _, e := range src.EdgesFrom(i) {
			newTarget := -1
			if int(e.TargetNode) < len(oldToNew) {
				newTarget = oldToNew[e.TargetNode]
			}
			if newTarget < 0 {
				continue
			}
			b.AddEdge(newSrc, uint32(newTarget), e.EdgeType, e.Weight, e.Flags)
		}
		for _, a := range src.ActionsFrom(i) {
			target := a.TargetNode
			if target >= 0 {
				if int(target) >= len(oldToNew) || oldToNew[target] < 0 {
					target = -2 // unresolved: the action's target node no longer exists
				} else {
					target = int32(oldToNew[target])
				}
			}
			b.AddAction(newSrc, a.Opcode, target, a.CostHint, a.Risk, a.HTTPExecutable)
		}
	}
}
