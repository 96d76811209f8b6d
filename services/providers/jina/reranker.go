package jina

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/context-retrieval/services/providers"
	"go.uber.org/zap"
)

const (
	defaultRerankModel   = "jina-reranker-v2-base-multilingual"
	defaultRerankTimeout = 30 * time.Second
)

// Reranker implements providers.Reranker against the Jina rerank API
type Reranker struct {
	client *client
	model  string
}

var _ providers.Reranker = (*Reranker)(nil)

// NewReranker creates a new Jina reranker
func NewReranker(cfg providers.ProviderConfig, logger *zap.Logger, opts ...Option) (*Reranker, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("jina reranker: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultRerankModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reranker{
		client: newClient(cfg, defaultRerankTimeout, logger.Named("jina.reranker"), opts...),
		model:  cfg.Model,
	}, nil
}

// Name returns the provider name
func (r *Reranker) Name() string {
	return providerName
}

// Rerank scores documents against query. The result has one entry per
// document; documents outside the provider's top_n get 0.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]float64, error) {
	if len(documents) == 0 {
		return []float64{}, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	req := rerankRequest{
		Model:     r.model,
		Query:     query,
		TopN:      topN,
		Documents: documents,
	}

	var resp rerankResponse
	if err := r.client.post(ctx, providers.OperationRerank, "/rerank", req, &resp); err != nil {
		return nil, err
	}

	scores := make([]float64, len(documents))
	for _, result := range resp.Results {
		if result.Index < 0 || result.Index >= len(documents) {
			return nil, providers.NewProviderError(providerName, providers.OperationRerank, "UNEXPECTED_RESPONSE",
				fmt.Sprintf("result index %d out of range for %d documents", result.Index, len(documents)), 0, false, nil)
		}
		scores[result.Index] = result.RelevanceScore
	}

	r.client.logger.Debug("reranked documents",
		zap.Int("documents", len(documents)),
		zap.Int("results", len(resp.Results)),
	)
	return scores, nil
}
