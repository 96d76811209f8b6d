package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/repositories"
	"go.uber.org/zap"
)

// EmbeddingRepository implements the repositories.EmbeddingRepository
// interface on top of pgvector
type EmbeddingRepository struct {
	db         *DB
	tx         *Transaction
	dimensions int
	logger     *zap.Logger
}

// NewEmbeddingRepository creates a new embedding repository for vectors
// of the given dimension
func NewEmbeddingRepository(db *DB, dimensions int, logger *zap.Logger) repositories.EmbeddingRepository {
	return &EmbeddingRepository{
		db:         db,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Save stores the vector for a message. A vector already stored for the
// message is left untouched.
func (r *EmbeddingRepository) Save(ctx context.Context, emb *models.Embedding) error {
	if err := r.checkDimensions(emb.Vector); err != nil {
		return err
	}

	query := `
		INSERT INTO message_embeddings (message_id, embedding, model, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING
	`

	executor := executorFor(ctx, r.db, r.tx)
	_, err := executor.ExecContext(ctx, query,
		emb.MessageID,
		pgvector.NewVector(emb.Vector),
		emb.Model,
		emb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	r.logger.Debug("embedding inserted", zap.String("message_id", emb.MessageID.String()))
	return nil
}

// GetByMessageID retrieves the vector for a message
func (r *EmbeddingRepository) GetByMessageID(ctx context.Context, messageID uuid.UUID) (*models.Embedding, error) {
	query := `
		SELECT message_id, embedding, model, created_at
		FROM message_embeddings
		WHERE message_id = $1
	`

	var (
		emb models.Embedding
		vec pgvector.Vector
	)
	executor := executorFor(ctx, r.db, r.tx)
	err := executor.QueryRowContext(ctx, query, messageID).Scan(&emb.MessageID, &vec, &emb.Model, &emb.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("embedding for message %s: %w", messageID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	emb.Vector = vec.Slice()
	return &emb, nil
}

// SimilaritySearch runs the match_messages function: messages in scope
// with cosine similarity at or above the threshold, best first
func (r *EmbeddingRepository) SimilaritySearch(ctx context.Context, q repositories.SimilarityQuery) ([]models.Candidate, error) {
	if err := r.checkDimensions(q.Vector); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		return []models.Candidate{}, nil
	}

	query := `
		SELECT id, user_id, conversation_id, role, content, metadata, created_at, similarity
		FROM match_messages($1::vector, $2, $3, $4, $5)
	`

	executor := executorFor(ctx, r.db, r.tx)
	rows, err := executor.QueryContext(ctx, query,
		pgvector.NewVector(q.Vector),
		q.Threshold,
		q.Limit,
		q.Scope.UserID,
		q.Scope.ConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run similarity search: %w", err)
	}
	defer rows.Close()

	candidates := make([]models.Candidate, 0, q.Limit)
	for rows.Next() {
		var similarity float64
		msg, err := scanMessage(rows, &similarity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, models.Candidate{Message: *msg, Similarity: similarity})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	r.logger.Debug("similarity search completed",
		zap.String("conversation_id", q.Scope.ConversationID),
		zap.Float64("threshold", q.Threshold),
		zap.Int("limit", q.Limit),
		zap.Int("results", len(candidates)))
	return candidates, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *EmbeddingRepository) WithTx(tx repositories.Transaction) repositories.EmbeddingRepository {
	return &EmbeddingRepository{
		db:         r.db,
		tx:         boundTx(tx),
		dimensions: r.dimensions,
		logger:     r.logger,
	}
}

func (r *EmbeddingRepository) checkDimensions(vec []float32) error {
	if r.dimensions > 0 && len(vec) != r.dimensions {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(vec), r.dimensions)
	}
	return nil
}
