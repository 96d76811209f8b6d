package retrieval

import (
	"context"

	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/repositories"
	"go.uber.org/zap"
)

// CandidateRetriever sizes and runs the similarity query that feeds ranking
type CandidateRetriever struct {
	store    repositories.EmbeddingRepository
	settings Settings
	logger   *zap.Logger
}

// NewCandidateRetriever creates a new candidate retriever
func NewCandidateRetriever(store repositories.EmbeddingRepository, settings Settings, logger *zap.Logger) *CandidateRetriever {
	return &CandidateRetriever{
		store:    store,
		settings: settings,
		logger:   logger,
	}
}

// Query builds the similarity query for one call. Reranked calls over-fetch
// at the looser threshold so the reranker can promote items a tight vector
// threshold would drop.
func (r *CandidateRetriever) Query(vector []float32, scope models.Scope, useReranker bool, finalLimit int) repositories.SimilarityQuery {
	q := repositories.SimilarityQuery{
		Vector:    vector,
		Scope:     scope,
		Threshold: r.settings.SimilarityThreshold,
		Limit:     finalLimit,
	}
	if useReranker {
		q.Threshold = r.settings.RerankCandidateThreshold
		q.Limit = max(r.settings.RerankCandidateLimit, finalLimit)
	}
	return q
}

// FetchCandidates returns scoped candidates ordered by similarity. An
// empty slice is a valid result.
func (r *CandidateRetriever) FetchCandidates(ctx context.Context, vector []float32, scope models.Scope, useReranker bool, finalLimit int) ([]models.Candidate, error) {
	q := r.Query(vector, scope, useReranker, finalLimit)

	candidates, err := r.store.SimilaritySearch(ctx, q)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("candidates fetched",
		zap.Bool("use_reranker", useReranker),
		zap.Float64("threshold", q.Threshold),
		zap.Int("limit", q.Limit),
		zap.Int("count", len(candidates)))

	if candidates == nil {
		candidates = []models.Candidate{}
	}
	return candidates, nil
}
