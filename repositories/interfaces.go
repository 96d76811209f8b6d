package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/context-retrieval/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes fn within a transaction.
	// Commits if fn succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error

	// Context returns a context carrying the transaction. Repositories
	// called with it join the transaction.
	Context() context.Context
}

// MessageRepository handles conversation message rows
type MessageRepository interface {
	// Create inserts a new message
	Create(ctx context.Context, msg *models.Message) error

	// GetByID retrieves a message by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)

	// ListByScope returns messages in a conversation, oldest first
	ListByScope(ctx context.Context, scope models.Scope, limit int) ([]*models.Message, error)

	// ListMissingEmbeddings returns messages with content but no stored vector
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*models.Message, error)

	// Delete removes a message and, by cascade, its embedding
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) MessageRepository
}

// SimilarityQuery parameterizes a scoped nearest-neighbour search
type SimilarityQuery struct {
	Vector    []float32
	Scope     models.Scope
	Threshold float64
	Limit     int
}

// EmbeddingRepository handles message vectors and similarity search
type EmbeddingRepository interface {
	// Save stores the vector for a message
	Save(ctx context.Context, emb *models.Embedding) error

	// GetByMessageID retrieves the vector for a message
	GetByMessageID(ctx context.Context, messageID uuid.UUID) (*models.Embedding, error)

	// SimilaritySearch returns messages in q.Scope whose cosine similarity
	// to q.Vector is at least q.Threshold, best first, at most q.Limit.
	SimilaritySearch(ctx context.Context, q SimilarityQuery) ([]models.Candidate, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) EmbeddingRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Messages   MessageRepository
	Embeddings EmbeddingRepository
}
