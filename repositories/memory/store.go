// Package memory is an in-process message store with brute-force cosine
// search. It backs local development and tests; it does not persist.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/repositories"
	"go.uber.org/zap"
)

// Store holds messages and their vectors behind a single lock
type Store struct {
	mu         sync.RWMutex
	messages   map[uuid.UUID]*models.Message
	embeddings map[uuid.UUID]*models.Embedding
	dimensions int
	logger     *zap.Logger
}

// NewStore creates an empty store for vectors of the given dimension.
// dimensions <= 0 accepts any length.
func NewStore(dimensions int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		messages:   make(map[uuid.UUID]*models.Message),
		embeddings: make(map[uuid.UUID]*models.Embedding),
		dimensions: dimensions,
		logger:     logger,
	}
}

// NewRepositories returns repositories backed by this store
func (s *Store) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Messages:   &MessageRepository{store: s},
		Embeddings: &EmbeddingRepository{store: s},
	}
}

// GetTransactionManager returns a transaction manager for this store
func (s *Store) GetTransactionManager() repositories.TransactionManager {
	return &TransactionManager{store: s}
}

// Len returns the number of stored messages
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// MessageRepository implements repositories.MessageRepository
type MessageRepository struct {
	store *Store
	tx    *Transaction
}

func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	s.messages[msg.ID] = cloneMessage(msg)

	id := msg.ID
	activeTx(ctx, r.tx).onRollback(func() {
		delete(s.messages, id)
		delete(s.embeddings, id)
	})
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	msg, ok := r.store.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, repositories.ErrNotFound)
	}
	return cloneMessage(msg), nil
}

func (r *MessageRepository) ListByScope(ctx context.Context, scope models.Scope, limit int) ([]*models.Message, error) {
	r.store.mu.RLock()
	var out []*models.Message
	for _, m := range r.store.messages {
		if m.Scope() == scope {
			out = append(out, cloneMessage(m))
		}
	}
	r.store.mu.RUnlock()

	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MessageRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*models.Message, error) {
	r.store.mu.RLock()
	var out []*models.Message
	for id, m := range r.store.messages {
		if _, ok := r.store.embeddings[id]; ok || !m.HasContent() {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	r.store.mu.RUnlock()

	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, repositories.ErrNotFound)
	}
	emb := s.embeddings[id]
	delete(s.messages, id)
	delete(s.embeddings, id)

	activeTx(ctx, r.tx).onRollback(func() {
		s.messages[id] = msg
		if emb != nil {
			s.embeddings[id] = emb
		}
	})
	return nil
}

func (r *MessageRepository) WithTx(tx repositories.Transaction) repositories.MessageRepository {
	return &MessageRepository{store: r.store, tx: boundTx(tx)}
}

// EmbeddingRepository implements repositories.EmbeddingRepository
type EmbeddingRepository struct {
	store *Store
	tx    *Transaction
}

// Save stores the vector for a message. An existing vector is kept.
func (r *EmbeddingRepository) Save(ctx context.Context, emb *models.Embedding) error {
	s := r.store
	if s.dimensions > 0 && len(emb.Vector) != s.dimensions {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(emb.Vector), s.dimensions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[emb.MessageID]; !ok {
		return fmt.Errorf("message %s: %w", emb.MessageID, repositories.ErrNotFound)
	}
	if _, exists := s.embeddings[emb.MessageID]; exists {
		return nil
	}

	c := *emb
	c.Vector = append([]float32(nil), emb.Vector...)
	s.embeddings[emb.MessageID] = &c

	id := emb.MessageID
	activeTx(ctx, r.tx).onRollback(func() { delete(s.embeddings, id) })
	return nil
}

func (r *EmbeddingRepository) GetByMessageID(ctx context.Context, messageID uuid.UUID) (*models.Embedding, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	emb, ok := r.store.embeddings[messageID]
	if !ok {
		return nil, fmt.Errorf("embedding for message %s: %w", messageID, repositories.ErrNotFound)
	}
	c := *emb
	c.Vector = append([]float32(nil), emb.Vector...)
	return &c, nil
}

// SimilaritySearch scans every vector in scope
func (r *EmbeddingRepository) SimilaritySearch(ctx context.Context, q repositories.SimilarityQuery) ([]models.Candidate, error) {
	s := r.store
	if s.dimensions > 0 && len(q.Vector) != s.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, store expects %d", len(q.Vector), s.dimensions)
	}
	if q.Limit <= 0 {
		return []models.Candidate{}, nil
	}

	s.mu.RLock()
	results := make([]models.Candidate, 0)
	for id, emb := range s.embeddings {
		msg, ok := s.messages[id]
		if !ok || msg.Scope() != q.Scope {
			continue
		}
		sim := CosineSimilarity(q.Vector, emb.Vector)
		if sim < q.Threshold {
			continue
		}
		results = append(results, models.Candidate{Message: *cloneMessage(msg), Similarity: sim})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})

	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (r *EmbeddingRepository) WithTx(tx repositories.Transaction) repositories.EmbeddingRepository {
	return &EmbeddingRepository{store: r.store, tx: boundTx(tx)}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortByCreated(msgs []*models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
