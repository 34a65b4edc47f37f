package retrieval

import "math"

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// maximalMarginalRelevance picks up to k candidate indexes, trading query
// similarity against similarity to already picked candidates. lambda = 1
// is pure relevance, lambda = 0 pure diversity.
func maximalMarginalRelevance(query []float32, candidates [][]float32, k int, lambda float64) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	k = min(k, len(candidates))

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = cosine(query, c)
	}

	picked := make([]int, 0, k)
	used := make([]bool, len(candidates))
	for len(picked) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			redundancy := 0.0
			if len(picked) > 0 {
				redundancy = math.Inf(-1)
				for _, j := range picked {
					redundancy = math.Max(redundancy, cosine(c, candidates[j]))
				}
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		picked = append(picked, best)
		used[best] = true
	}
	return picked
}
