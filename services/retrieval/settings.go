package retrieval

import (
	"github.com/upb/context-retrieval/config"
	"github.com/upb/context-retrieval/utils"
)

// Settings are the tuned thresholds and weights of the ranking pipeline.
// They are loaded once and never mutated.
type Settings struct {
	// SimilarityThreshold is the minimum cosine similarity when reranking
	// is not attempted
	SimilarityThreshold float64 `validate:"gte=0,lte=1"`

	// RerankCandidateThreshold is the looser threshold used to build the
	// pool handed to the reranker
	RerankCandidateThreshold float64 `validate:"gte=0,lte=1"`

	// RerankCandidateLimit is the minimum pool size fetched for reranking
	RerankCandidateLimit int `validate:"gt=0"`

	// RerankGate is the best similarity a pool needs before the reranker
	// is called at all
	RerankGate float64 `validate:"gte=0,lte=1"`

	VectorWeight   float64 `validate:"gte=0,lte=1"`
	RerankerWeight float64 `validate:"gte=0,lte=1"`

	DefaultLimit int `validate:"gt=0"`
	MaxLimit     int `validate:"gtefield=DefaultLimit"`

	// DegradeOnEmbeddingFailure returns an empty context instead of an
	// error when the query cannot be embedded
	DegradeOnEmbeddingFailure bool
}

// DefaultSettings returns the empirically tuned defaults
func DefaultSettings() Settings {
	return Settings{
		SimilarityThreshold:       0.65,
		RerankCandidateThreshold:  0.3,
		RerankCandidateLimit:      20,
		RerankGate:                0.4,
		VectorWeight:              0.8,
		RerankerWeight:            0.2,
		DefaultLimit:              5,
		MaxLimit:                  50,
		DegradeOnEmbeddingFailure: true,
	}
}

// SettingsFromConfig maps the retrieval section of the service config
func SettingsFromConfig(cfg config.RetrievalConfig) Settings {
	return Settings{
		SimilarityThreshold:       cfg.SimilarityThreshold,
		RerankCandidateThreshold:  cfg.RerankCandidateThreshold,
		RerankCandidateLimit:      cfg.RerankCandidateLimit,
		RerankGate:                cfg.RerankGate,
		VectorWeight:              cfg.VectorWeight,
		RerankerWeight:            cfg.RerankerWeight,
		DefaultLimit:              cfg.DefaultLimit,
		MaxLimit:                  cfg.MaxLimit,
		DegradeOnEmbeddingFailure: cfg.DegradeOnEmbeddingFailure,
	}
}

// Validate checks ranges with the shared struct validator
func (s Settings) Validate() error {
	return utils.ValidateStruct(s)
}

// resolveLimit applies the default to an unset limit and caps it
func (s Settings) resolveLimit(limit int) int {
	if limit == 0 {
		return s.DefaultLimit
	}
	if limit > s.MaxLimit {
		return s.MaxLimit
	}
	return limit
}
