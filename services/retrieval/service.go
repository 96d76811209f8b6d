package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/context-retrieval/internal/observability"
	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/repositories"
	"github.com/upb/context-retrieval/services"
	"github.com/upb/context-retrieval/services/providers"
	"go.uber.org/zap"
)

// Fallback reasons reported to metrics
const (
	fallbackError          = "error"
	fallbackLengthMismatch = "length_mismatch"
	fallbackUnavailable    = "unavailable"
)

// Dependencies are the collaborators of a ContextService
type Dependencies struct {
	// Embedder is used on the write path and for backfill
	Embedder providers.Embedder

	// QueryEmbedder embeds retrieval queries. Defaults to Embedder; set it
	// to a providers.CachedEmbedder to cache repeated queries.
	QueryEmbedder providers.Embedder

	// Reranker is optional. Without it every call ranks by similarity.
	Reranker providers.Reranker

	Repositories *repositories.Repositories
	TxManager    repositories.TransactionManager
	Metrics      observability.Metrics
}

// ContextService stores conversation messages with their vectors and
// returns the prior messages most relevant to a new one
type ContextService struct {
	embedder      providers.Embedder
	queryEmbedder providers.Embedder
	reranker      providers.Reranker
	messages      repositories.MessageRepository
	embeddings    repositories.EmbeddingRepository
	txMgr         repositories.TransactionManager
	retriever     *CandidateRetriever
	settings      Settings
	metrics       observability.Metrics
	logger        *zap.Logger
}

// NewContextService validates its collaborators and settings. A missing
// embedder or store is a configuration error.
func NewContextService(deps Dependencies, settings Settings, logger *zap.Logger) (*ContextService, error) {
	if deps.Embedder == nil {
		return nil, services.ErrMissingEmbedder
	}
	if deps.Repositories == nil || deps.Repositories.Messages == nil || deps.Repositories.Embeddings == nil || deps.TxManager == nil {
		return nil, services.ErrMissingStore
	}
	if err := settings.Validate(); err != nil {
		return nil, services.WrapError(services.ErrorTypeConfiguration, services.ErrInvalidSettings.Message, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	queryEmbedder := deps.QueryEmbedder
	if queryEmbedder == nil {
		queryEmbedder = deps.Embedder
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}

	return &ContextService{
		embedder:      deps.Embedder,
		queryEmbedder: queryEmbedder,
		reranker:      deps.Reranker,
		messages:      deps.Repositories.Messages,
		embeddings:    deps.Repositories.Embeddings,
		txMgr:         deps.TxManager,
		retriever:     NewCandidateRetriever(deps.Repositories.Embeddings, settings, logger),
		settings:      settings,
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Settings returns the ranking settings in use
func (s *ContextService) Settings() Settings {
	return s.settings
}

// RerankerEnabled reports whether a reranker is configured
func (s *ContextService) RerankerEnabled() bool {
	return s.reranker != nil
}

// GetRelevantContext returns up to q.Limit prior messages from q.Scope
// ranked for relevance to q.Text. "No results" is an empty slice, never an
// error; only infrastructure failures are returned.
func (s *ContextService) GetRelevantContext(ctx context.Context, q ContextQuery) ([]models.RankedResult, error) {
	start := time.Now()
	logger := observability.FromContext(ctx, s.logger)

	if err := q.Scope.Validate(); err != nil {
		return nil, services.WrapValidation(services.ErrInvalidScope.Message, err)
	}
	if q.Limit < 0 {
		return nil, services.ErrInvalidLimit
	}
	limit := s.settings.resolveLimit(q.Limit)

	useReranker := q.UseReranker
	if useReranker && s.reranker == nil {
		logger.Debug("reranking requested but no reranker configured")
		s.metrics.RecordRerankFallback(ctx, fallbackUnavailable)
		useReranker = false
	}

	labels := observability.RetrievalLabels{Outcome: observability.OutcomeEmpty}
	defer func() {
		s.metrics.RecordRetrieval(ctx, labels, time.Since(start))
	}()

	if providers.IsBlank(q.Text) {
		return []models.RankedResult{}, nil
	}

	vector, err := s.queryEmbedder.Embed(ctx, q.Text)
	if err != nil {
		if s.settings.DegradeOnEmbeddingFailure {
			logger.Warn("query embedding failed, returning empty context", zap.Error(err))
			labels.Outcome = observability.OutcomeDegraded
			return []models.RankedResult{}, nil
		}
		labels.Outcome = observability.OutcomeError
		return nil, services.WrapExternal(services.ErrEmbeddingFailed.Message, err).
			WithDetail("operation", string(providers.OperationEmbed))
	}
	if vector == nil {
		return []models.RankedResult{}, nil
	}

	candidates, err := s.retriever.FetchCandidates(ctx, vector, q.Scope, useReranker, limit)
	if err != nil {
		labels.Outcome = observability.OutcomeError
		return nil, services.WrapInternal(services.ErrStoreFailed.Message, err).
			WithDetail("operation", "similarity_search")
	}
	s.metrics.RecordCandidates(ctx, len(candidates))
	if len(candidates) == 0 {
		return []models.RankedResult{}, nil
	}

	labels.Outcome = observability.OutcomeOK
	if !useReranker {
		return RankBySimilarity(candidates, limit), nil
	}

	best := BestSimilarity(candidates)
	if best < s.settings.RerankGate {
		logger.Debug("skipping rerank, best similarity below gate",
			zap.Float64("best_similarity", best),
			zap.Float64("gate", s.settings.RerankGate))
		return RankBySimilarity(candidates, limit), nil
	}

	results, reason, err := s.rerank(ctx, q.Text, candidates, limit)
	if err != nil {
		logger.Warn("rerank failed, falling back to similarity ranking",
			zap.String("reason", reason),
			zap.Int("candidates", len(candidates)),
			zap.Error(err))
		s.metrics.RecordRerankFallback(ctx, reason)
		labels.Outcome = observability.OutcomeDegraded
		return RankBySimilarity(candidates, limit), nil
	}

	labels.Reranked = true
	return results, nil
}

func (s *ContextService) rerank(ctx context.Context, query string, candidates []models.Candidate, limit int) ([]models.RankedResult, string, error) {
	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	scores, err := s.reranker.Rerank(ctx, query, documents, limit)
	if err != nil {
		return nil, fallbackError, err
	}

	weights := Weights{Vector: s.settings.VectorWeight, Reranker: s.settings.RerankerWeight}
	results, err := Fuse(candidates, scores, weights, limit)
	if err != nil {
		return nil, fallbackLengthMismatch, err
	}
	return results, "", nil
}

// StoreMessage embeds and persists one message. The message row and its
// vector are written in a single transaction; an embedding failure stores
// nothing.
func (s *ContextService) StoreMessage(ctx context.Context, req StoreRequest) (*models.Message, error) {
	if err := validateItem(req.Scope, req.Role, req.Content); err != nil {
		return nil, err
	}

	vector, err := s.embedder.Embed(ctx, req.Content)
	if err != nil {
		return nil, services.WrapExternal(services.ErrEmbeddingFailed.Message, err).
			WithDetail("operation", string(providers.OperationEmbed))
	}
	if err := s.checkVector(vector); err != nil {
		return nil, err
	}

	msg := newMessage(req.Scope, req.Role, req.Content, req.Metadata)
	err = services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return s.persist(ctx, msg, vector)
	})
	if err != nil {
		return nil, err
	}

	observability.FromContext(ctx, s.logger).Info("message stored",
		zap.String("message_id", msg.ID.String()),
		zap.String("conversation_id", msg.ConversationID),
		zap.String("role", string(msg.Role)))
	return msg, nil
}

// StoreMessages embeds a batch with one EmbedBatch call and stores every
// non-blank item in one transaction. The result is aligned with items;
// blank items are skipped and leave nil at their position.
func (s *ContextService) StoreMessages(ctx context.Context, scope models.Scope, items []BatchItem) ([]*models.Message, error) {
	if err := scope.Validate(); err != nil {
		return nil, services.WrapValidation(services.ErrInvalidScope.Message, err)
	}
	texts := make([]string, len(items))
	for i, item := range items {
		if !item.Role.IsValid() {
			return nil, services.WrapValidation(services.ErrInvalidRole.Message, nil).WithDetail("index", i)
		}
		texts[i] = item.Content
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		domainErr := services.WrapExternal(services.ErrEmbeddingFailed.Message, err).
			WithDetail("operation", string(providers.OperationEmbed))
		var batchErr *providers.BatchError
		if errors.As(err, &batchErr) {
			domainErr.WithDetail("failed_positions", batchErr.Failed)
		}
		return nil, domainErr
	}

	stored := make([]*models.Message, len(items))
	err = services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		for i, item := range items {
			if providers.IsBlank(item.Content) {
				continue
			}
			if err := s.checkVector(vectors[i]); err != nil {
				return err
			}
			msg := newMessage(scope, item.Role, item.Content, item.Metadata)
			if err := s.persist(ctx, msg, vectors[i]); err != nil {
				return err
			}
			stored[i] = msg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.FromContext(ctx, s.logger).Info("message batch stored",
		zap.String("conversation_id", scope.ConversationID),
		zap.Int("items", len(items)))
	return stored, nil
}

// DeleteMessage removes a message and its vector. A message outside the
// caller's scope is reported as not found.
func (s *ContextService) DeleteMessage(ctx context.Context, scope models.Scope, id uuid.UUID) error {
	if err := scope.Validate(); err != nil {
		return services.WrapValidation(services.ErrInvalidScope.Message, err)
	}

	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrMessageNotFound
		}
		return services.WrapInternal(services.ErrStoreFailed.Message, err).WithDetail("operation", "get_message")
	}
	if msg.Scope() != scope {
		return services.ErrMessageNotFound
	}

	if err := s.messages.Delete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrMessageNotFound
		}
		return services.WrapInternal(services.ErrStoreFailed.Message, err).WithDetail("operation", "delete_message")
	}

	observability.FromContext(ctx, s.logger).Info("message deleted", zap.String("message_id", id.String()))
	return nil
}

// BackfillEmbeddings finds messages that have no vector, embeds them in
// batches of batchSize and saves the vectors. Messages that fail to embed
// are counted and not retried within the same run.
func (s *ContextService) BackfillEmbeddings(ctx context.Context, batchSize int) (BackfillReport, error) {
	var report BackfillReport
	if batchSize <= 0 {
		return report, services.ErrInvalidLimit
	}

	failed := make(map[uuid.UUID]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		pending, err := s.messages.ListMissingEmbeddings(ctx, batchSize+len(failed))
		if err != nil {
			return report, services.WrapInternal(services.ErrStoreFailed.Message, err).WithDetail("operation", "list_missing_embeddings")
		}

		batch := make([]*models.Message, 0, len(pending))
		for _, msg := range pending {
			if _, skip := failed[msg.ID]; !skip {
				batch = append(batch, msg)
			}
		}
		if len(batch) == 0 {
			break
		}
		if len(batch) > batchSize {
			batch = batch[:batchSize]
		}
		report.Scanned += len(batch)

		texts := make([]string, len(batch))
		for i, msg := range batch {
			texts[i] = msg.Content
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		var batchErr *providers.BatchError
		if err != nil && !errors.As(err, &batchErr) {
			return report, services.WrapExternal(services.ErrEmbeddingFailed.Message, err).
				WithDetail("operation", string(providers.OperationEmbed))
		}

		for i, msg := range batch {
			if i >= len(vectors) || vectors[i] == nil || s.checkVector(vectors[i]) != nil {
				failed[msg.ID] = struct{}{}
				report.Failed++
				continue
			}
			if err := s.embeddings.Save(ctx, models.NewEmbedding(msg.ID, vectors[i], s.embedder.Model())); err != nil {
				return report, services.WrapInternal(services.ErrStoreFailed.Message, err).WithDetail("operation", "save_embedding")
			}
			report.Embedded++
		}

		s.logger.Info("backfill batch completed",
			zap.Int("batch", len(batch)),
			zap.Int("embedded", report.Embedded),
			zap.Int("failed", report.Failed))
	}

	return report, nil
}

func (s *ContextService) persist(ctx context.Context, msg *models.Message, vector []float32) error {
	if err := s.messages.Create(ctx, msg); err != nil {
		return services.WrapInternal(services.ErrStoreFailed.Message, err).WithDetail("operation", "insert_message")
	}
	emb := models.NewEmbedding(msg.ID, vector, s.embedder.Model())
	if err := s.embeddings.Save(ctx, emb); err != nil {
		return services.WrapInternal(services.ErrStoreFailed.Message, err).WithDetail("operation", "insert_embedding")
	}
	return nil
}

func (s *ContextService) checkVector(vector []float32) error {
	if vector == nil {
		return services.WrapExternal(services.ErrEmbeddingFailed.Message, errors.New("provider returned no vector"))
	}
	if dims := s.embedder.Dimensions(); dims > 0 && len(vector) != dims {
		return services.WrapValidation(services.ErrDimensionMismatch.Message, nil).
			WithDetail("expected", dims).
			WithDetail("actual", len(vector))
	}
	return nil
}

func validateItem(scope models.Scope, role models.Role, content string) error {
	if err := scope.Validate(); err != nil {
		return services.WrapValidation(services.ErrInvalidScope.Message, err)
	}
	if !role.IsValid() {
		return services.ErrInvalidRole
	}
	if providers.IsBlank(content) {
		return services.ErrEmptyContent
	}
	return nil
}

func newMessage(scope models.Scope, role models.Role, content string, metadata map[string]any) *models.Message {
	msg := models.NewMessage(scope, role, content)
	for k, v := range metadata {
		msg.Metadata[k] = v
	}
	return msg
}
