package retrieval

import (
	"math"

	"synapse-go/pkg/vectorstore"
)

// MaximalMarginalRelevance 从候选中选出 k 条，兼顾与查询的相关度和与已选结果的差异。
// lambda 为 1 时退化为按相关度排序，为 0 时只看差异。
func MaximalMarginalRelevance(query []float32, candidates []vectorstore.Hit, k int, lambda float64) []vectorstore.Hit {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	best := 0
	for i, c := range candidates {
		relevance[i] = vectorstore.Cosine(query, c.Vector)
		if relevance[i] > relevance[best] {
			best = i
		}
	}

	selected := []int{best}
	picked := make([]bool, len(candidates))
	picked[best] = true

	for len(selected) < k {
		idx := -1
		bestScore := math.Inf(-1)
		for i, c := range candidates {
			if picked[i] {
				continue
			}
			redundancy := math.Inf(-1)
			for _, j := range selected {
				if sim := vectorstore.Cosine(c.Vector, candidates[j].Vector); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				idx = i
			}
		}
		selected = append(selected, idx)
		picked[idx] = true
	}

	out := make([]vectorstore.Hit, 0, len(selected))
	for _, i := range selected {
		out = append(out, candidates[i])
	}
	return out
}
