package jina

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/context-retrieval/services/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEmbeddingModel   = "jina-embeddings-v3"
	defaultEmbeddingTask    = "text-matching"
	defaultDimensions       = 1024
	defaultBatchSize        = 10
	defaultEmbeddingTimeout = 10 * time.Second
)

// EmbedderConfig configures the Jina embedding adapter
type EmbedderConfig struct {
	providers.ProviderConfig

	Task        string
	Dimensions  int
	BatchSize   int
	Concurrency int // chunks in flight; 1 sends chunks sequentially
}

// Embedder implements providers.Embedder against the Jina embeddings API
type Embedder struct {
	client      *client
	model       string
	task        string
	dimensions  int
	batchSize   int
	concurrency int
}

var _ providers.Embedder = (*Embedder)(nil)

// NewEmbedder creates a new Jina embedder. A missing API key is a
// configuration error.
func NewEmbedder(cfg EmbedderConfig, logger *zap.Logger, opts ...Option) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("jina embedder: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.Task == "" {
		cfg.Task = defaultEmbeddingTask
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		client:      newClient(cfg.ProviderConfig, defaultEmbeddingTimeout, logger.Named("jina.embedder"), opts...),
		model:       cfg.Model,
		task:        cfg.Task,
		dimensions:  cfg.Dimensions,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}, nil
}

// Name returns the provider name
func (e *Embedder) Name() string {
	return providerName
}

// Model returns the embedding model identifier
func (e *Embedder) Model() string {
	return e.model
}

// Dimensions returns the configured vector length
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Embed returns the vector for a single text
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if providers.IsBlank(text) {
		return nil, nil
	}

	vectors, err := e.embedChunk(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in chunks of BatchSize, preserving input
// positions. Blank inputs come back as nil and are never sent.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if !providers.IsBlank(text) {
			positions = append(positions, i)
		}
	}
	if len(positions) == 0 {
		return out, nil
	}

	var (
		mu       sync.Mutex
		failed   []int
		firstErr error
	)

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for start := 0; start < len(positions); start += e.batchSize {
		end := start + e.batchSize
		if end > len(positions) {
			end = len(positions)
		}
		chunk := positions[start:end]
		start := start

		g.Go(func() error {
			inputs := make([]string, len(chunk))
			for i, pos := range chunk {
				inputs[i] = texts[pos]
			}

			vectors, err := e.embedChunk(ctx, inputs)
			if err != nil {
				mu.Lock()
				failed = append(failed, chunk...)
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				e.client.logger.Warn("embedding chunk failed",
					zap.Int("chunk_start", start),
					zap.Int("chunk_size", len(chunk)),
					zap.Error(err),
				)
				return nil
			}

			for i, pos := range chunk {
				out[pos] = vectors[i]
			}
			return nil
		})
	}
	_ = g.Wait()

	if firstErr != nil {
		return out, providers.NewBatchError(failed, len(texts), firstErr)
	}
	return out, nil
}

// embedChunk sends one request and returns vectors aligned with inputs
func (e *Embedder) embedChunk(ctx context.Context, inputs []string) ([][]float32, error) {
	req := embeddingRequest{
		Model:         e.model,
		Task:          e.task,
		Dimensions:    e.dimensions,
		EmbeddingType: "float",
		Input:         inputs,
	}

	var resp embeddingResponse
	if err := e.client.post(ctx, providers.OperationEmbed, "/embeddings", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Data) != len(inputs) {
		return nil, providers.NewProviderError(providerName, providers.OperationEmbed, "UNEXPECTED_RESPONSE",
			fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(resp.Data)), 0, false, nil)
	}

	vectors := make([][]float32, len(inputs))
	for i, d := range resp.Data {
		idx := i
		if d.Index != nil {
			idx = *d.Index
		}
		if idx < 0 || idx >= len(inputs) || vectors[idx] != nil {
			return nil, providers.NewProviderError(providerName, providers.OperationEmbed, "UNEXPECTED_RESPONSE",
				fmt.Sprintf("invalid embedding index %d", idx), 0, false, nil)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, providers.NewProviderError(providerName, providers.OperationEmbed, "DIMENSION_MISMATCH",
				fmt.Sprintf("expected %d dimensions, got %d", e.dimensions, len(d.Embedding)), 0, false, nil)
		}
		vectors[idx] = d.Embedding
	}

	e.client.logger.Debug("embedded chunk",
		zap.Int("inputs", len(inputs)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return vectors, nil
}
