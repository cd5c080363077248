// Package deltalog implements the DeltaLog component: an append-only,
// per-domain history of node and feature mutations between successive
// SiteMaps, plus the Merkle-tree registry diff used to find which domains
// changed across a fleet of maps.
package deltalog

import (
	"encoding/binary"
	"hash/crc32"
	"sort"
	"time"

	"cortex/internal/sitemap"
)

// dimEpsilon is the minimum per-dimension absolute difference that counts as
// a modification rather than floating-point noise.
const dimEpsilon = 1e-6

// DefaultKeepDeltas is the default garbage-collection retention: the number
// of most recent deltas kept per domain once a newer snapshot subsumes them.
const DefaultKeepDeltas = 50

// Diff computes the SiteDelta turning `before` into `after`, both for the
// same domain. URLs present in after but not before are additions; URLs
// present in before but not after are removals; URLs present in both
// contribute a NodeModification listing every feature dimension whose
// absolute difference exceeds dimEpsilon.
func Diff(before, after *sitemap.SiteMap, contributorID string, at time.Time) sitemap.SiteDelta {
	beforeIdx := indexByURL(before)
	afterIdx := indexByURL(after)

	delta := sitemap.SiteDelta{
		Timestamp:     at,
		BaseHash:      Fingerprint(before),
		ContributorID: contributorID,
	}

	for url := range afterIdx {
		if _, ok := beforeIdx[url]; !ok {
			delta.NodesAdded = append(delta.NodesAdded, url)
		}
	}
	for url := range beforeIdx {
		if _, ok := afterIdx[url]; !ok {
			delta.NodesRemoved = append(delta.NodesRemoved, url)
		}
	}
	sort.Strings(delta.NodesAdded)
	sort.Strings(delta.NodesRemoved)

	for _, url := range delta.NodesAdded {
		delta.AddedNodes = append(delta.AddedNodes, snapshotNode(after, afterIdx[url], url))
	}
	for _, url := range delta.NodesRemoved {
		delta.RemovedNodes = append(delta.RemovedNodes, snapshotNode(before, beforeIdx[url], url))
	}

	for url, bi := range beforeIdx {
		ai, ok := afterIdx[url]
		if !ok {
			continue
		}
		mod := diffFeatureRow(before.Features[bi], after.Features[ai])
		if len(mod) > 0 {
			delta.NodesModified = append(delta.NodesModified, sitemap.NodeModification{
				NodeIndex:   ai,
				URL:         url,
				ChangedDims: mod,
			})
		}
	}
	sort.Slice(delta.NodesModified, func(i, j int) bool {
		return delta.NodesModified[i].URL < delta.NodesModified[j].URL
	})

	return delta
}

// snapshotNode captures node i of m (identified by url) as a NodeSnapshot,
// the full pre/post-image Apply and Unapply need to materialize or restore
// an added or removed node without consulting any other SiteMap.
func snapshotNode(m *sitemap.SiteMap, i int, url string) sitemap.NodeSnapshot {
	features := make([]float32, len(m.Features[i]))
	copy(features, m.Features[i])
	return sitemap.NodeSnapshot{
		URL:      url,
		Node:     m.Nodes[i],
		Features: features,
	}
}

func indexByURL(m *sitemap.SiteMap) map[string]int {
	idx := make(map[string]int, len(m.URLs))
	for i, u := range m.URLs {
		idx[u] = i
	}
	return idx
}

func diffFeatureRow(before, after []float32) []sitemap.DimChange {
	var changes []sitemap.DimChange
	for d := 0; d < sitemap.FeatureDim && d < len(before) && d < len(after); d++ {
		diff := float64(after[d]) - float64(before[d])
		if diff < 0 {
			diff = -diff
		}
		if diff > dimEpsilon {
			changes = append(changes, sitemap.DimChange{Dimension: uint8(d), OldValue: before[d], NewValue: after[d]})
		}
	}
	return changes
}

// Fingerprint returns a CRC32 fingerprint of m's encoded bytes, used as a
// SiteDelta's base_hash and as a registry leaf hash for the Merkle diff.
// Encoding failures (which Encode never actually returns today) fingerprint
// as 0, signaling "unknown" rather than panicking.
func Fingerprint(m *sitemap.SiteMap) uint32 {
	if m == nil {
		return 0
	}
	data, err := sitemap.Encode(m)
	if err != nil {
		return 0
	}
	return crc32.ChecksumIEEE(data)
}

// fingerprintBytes renders a fingerprint as its 4-byte little-endian form,
// the unit the Merkle tree mixes.
func fingerprintBytes(fp uint32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], fp)
	return b
}
