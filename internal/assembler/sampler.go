// Package assembler implements the MapAssembler component: running the
// AcquisitionLayers pipeline under a time/node budget, selecting which URLs
// get the expensive L1 treatment, and progressively rendering the rest.
package assembler

import (
	"sort"

	"cortex/internal/sitemap"
)

// CandidateURL is one URL discovered by L0 with enough structural metadata
// to score for sampling.
type CandidateURL struct {
	URL          string
	PageType     sitemap.PageType
	Confidence   float32
	InboundCount int
	Depth        int
	StatusCode   int
}

// minTypeRepresentation is the floor every identified page type is
// guaranteed before the sampler falls back to pure score order.
const minTypeRepresentation = 2

// underrepresentedTypeBoost is added to a URL's score when its page type
// has fewer than underrepresentedTypeThreshold known instances so far.
const (
	underrepresentedTypeBoost     = 5.0
	underrepresentedTypeThreshold = 5
)

// SelectSamples picks up to maxRender URLs for L1 by score =
// 3*inbound_count + 10/(1+depth) + 2*confidence + (5 if under-represented).
// The home page (page type Home, or a "/" path) is always included; every
// identified page type gets at least 2 samples when the candidate pool
// supports it.
func SelectSamples(urls []CandidateURL, maxRender int) []string {
	if len(urls) == 0 || maxRender <= 0 {
		return nil
	}

	selected := map[int]bool{}
	var order []int

	for i, u := range urls {
		if u.PageType == sitemap.PageHome || isRootPath(u.URL) {
			selected[i] = true
			order = append(order, i)
			break
		}
	}

	typeCounts := map[sitemap.PageType]int{}
	for _, u := range urls {
		typeCounts[u.PageType]++
	}

	scored := make([]scoredURL, 0, len(urls))
	for i, u := range urls {
		if selected[i] {
			continue
		}
		scored = append(scored, scoredURL{index: i, score: sampleScore(u, typeCounts)})
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].score > scored[b].score })

	typeSelected := map[sitemap.PageType]int{}
	for i := range selected {
		typeSelected[urls[i].PageType]++
	}

	for _, s := range scored {
		if len(order) >= maxRender {
			break
		}
		pt := urls[s.index].PageType
		if typeSelected[pt] < minTypeRepresentation {
			selected[s.index] = true
			order = append(order, s.index)
			typeSelected[pt]++
		}
	}

	for _, s := range scored {
		if len(order) >= maxRender {
			break
		}
		if !selected[s.index] {
			selected[s.index] = true
			order = append(order, s.index)
		}
	}

	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = urls[idx].URL
	}
	return out
}

type scoredURL struct {
	index int
	score float64
}

func sampleScore(u CandidateURL, typeCounts map[sitemap.PageType]int) float64 {
	score := float64(u.InboundCount) * 3.0
	score += 10.0 / (1.0 + float64(u.Depth))
	score += float64(u.Confidence) * 2.0
	if typeCounts[u.PageType] < underrepresentedTypeThreshold {
		score += underrepresentedTypeBoost
	}
	return score
}

func isRootPath(rawURL string) bool {
	return len(rawURL) > 0 && rawURL[len(rawURL)-1] == '/' && countSlashesAfterScheme(rawURL) <= 3
}

// countSlashesAfterScheme is a cheap substitute for parsing the URL just to
// check "is this the origin root": counts '/' occurrences, which for
// "https://host/" is exactly 3.
func countSlashesAfterScheme(s string) int {
	n := 0
	for _, c := range s {
		if c == '/' {
			n++
		}
	}
	return n
}
