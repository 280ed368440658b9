package memory

import (
	"math"
	"sort"

	"github.com/viterin/vek/vek32"
)

// CosineSimilarity returns dot(a,b)/(|a||b|). Mismatched lengths, empty
// vectors and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na := math.Sqrt(float64(vek32.Dot(a, a)))
	nb := math.Sqrt(float64(vek32.Dot(b, b)))
	if na == 0 || nb == 0 {
		return 0
	}
	s := float64(vek32.Dot(a, b)) / (na * nb)
	return math.Max(-1, math.Min(1, s))
}

// clampRelevance maps a native similarity onto [0,1].
func clampRelevance(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func rankResults(results []Result, limit int) []Result {
	for i := range results {
		results[i].RelevanceScore = clampRelevance(results[i].RelevanceScore)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
