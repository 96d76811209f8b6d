package retrieval

import (
	"fmt"
	"sort"

	"github.com/upb/context-retrieval/models"
)

// Weights is the linear blend applied to similarity and reranker scores
type Weights struct {
	Vector   float64
	Reranker float64
}

// RankBySimilarity ranks candidates on similarity alone. No result
// carries a reranked score.
func RankBySimilarity(candidates []models.Candidate, limit int) []models.RankedResult {
	results := make([]models.RankedResult, len(candidates))
	for i, c := range candidates {
		results[i] = models.RankedResult{Candidate: c, FinalScore: c.Similarity}
	}
	return sortAndTruncate(results, limit)
}

// Fuse blends similarity with positionally aligned reranker scores. A
// score slice of the wrong length is an error; callers fall back to
// RankBySimilarity.
func Fuse(candidates []models.Candidate, scores []float64, w Weights, limit int) ([]models.RankedResult, error) {
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(candidates))
	}

	results := make([]models.RankedResult, len(candidates))
	for i, c := range candidates {
		score := scores[i]
		results[i] = models.RankedResult{
			Candidate:     c,
			RerankedScore: &score,
			FinalScore:    w.Vector*c.Similarity + w.Reranker*score,
		}
	}
	return sortAndTruncate(results, limit), nil
}

// BestSimilarity returns the highest similarity in the pool, or 0 when empty
func BestSimilarity(candidates []models.Candidate) float64 {
	var best float64
	for i, c := range candidates {
		if i == 0 || c.Similarity > best {
			best = c.Similarity
		}
	}
	return best
}

// sortAndTruncate orders by FinalScore descending. Ties keep input order.
func sortAndTruncate(results []models.RankedResult, limit int) []models.RankedResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
