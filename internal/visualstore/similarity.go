package visualstore

import (
	"math"
	"sort"
)

// CosineSimilarity computes dot(a,b) / (‖a‖·‖b‖) in float64 precision,
// returning 0 for mismatched lengths, empty vectors, or a zero-norm side.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// FindSimilar ranks observations by cosine similarity to query, dropping
// empty-embedding observations and anything below minSimilarity, then
// truncates to topK.
func FindSimilar(query []float32, observations []VisualObservation, topK int, minSimilarity float32) []SimilarityMatch {
	var matches []SimilarityMatch
	for _, o := range observations {
		if len(o.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(query, o.Embedding)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, SimilarityMatch{ID: o.ID, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}
