package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/repositories"
	"go.uber.org/zap"
)

const messageColumns = `id, user_id, conversation_id, role, content, metadata, created_at`

// MessageRepository implements the repositories.MessageRepository interface
type MessageRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB, logger *zap.Logger) repositories.MessageRepository {
	return &MessageRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new message
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	metadata, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := executorFor(ctx, r.db, r.tx)
	_, err = executor.ExecContext(ctx, query,
		msg.ID,
		msg.UserID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		metadata,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	r.logger.Debug("message inserted",
		zap.String("id", msg.ID.String()),
		zap.String("conversation_id", msg.ConversationID))
	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	executor := executorFor(ctx, r.db, r.tx)
	msg, err := scanMessage(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListByScope returns messages in a conversation, oldest first
func (r *MessageRepository) ListByScope(ctx context.Context, scope models.Scope, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE user_id = $1 AND conversation_id = $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	return r.queryMessages(ctx, query, scope.UserID, scope.ConversationID, limit)
}

// ListMissingEmbeddings returns messages with content but no stored vector
func (r *MessageRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*models.Message, error) {
	query := `
		SELECT m.id, m.user_id, m.conversation_id, m.role, m.content, m.metadata, m.created_at
		FROM messages m
		LEFT JOIN message_embeddings e ON e.message_id = m.id
		WHERE e.message_id IS NULL AND btrim(m.content) <> ''
		ORDER BY m.created_at ASC
		LIMIT $1
	`
	return r.queryMessages(ctx, query, limit)
}

// Delete removes a message; its embedding is removed by cascade
func (r *MessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	executor := executorFor(ctx, r.db, r.tx)
	result, err := executor.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("message %s: %w", id, repositories.ErrNotFound)
	}

	r.logger.Debug("message deleted", zap.String("id", id.String()))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *MessageRepository) WithTx(tx repositories.Transaction) repositories.MessageRepository {
	return &MessageRepository{
		db:     r.db,
		tx:     boundTx(tx),
		logger: r.logger,
	}
}

func (r *MessageRepository) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	executor := executorFor(ctx, r.db, r.tx)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner, extra ...interface{}) (*models.Message, error) {
	var (
		msg      models.Message
		metadata []byte
	)
	dest := append([]interface{}{
		&msg.ID,
		&msg.UserID,
		&msg.ConversationID,
		&msg.Role,
		&msg.Content,
		&metadata,
		&msg.CreatedAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	msg.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &msg, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}
