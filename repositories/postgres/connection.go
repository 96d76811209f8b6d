package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/context-retrieval/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{DB: db, logger: logger}, nil
}

// NewDBFromConn wraps an existing pool (used by tests with sqlmock)
func NewDBFromConn(db *sql.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// SchemaSQL returns the DDL for the message store with vectors of the
// given dimension. Every statement is idempotent.
func SchemaSQL(dimensions int) string {
	return fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			role VARCHAR(16) NOT NULL CHECK (role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS message_embeddings (
			message_id UUID PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
			embedding vector(%[1]d) NOT NULL,
			model VARCHAR(100) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_messages_scope ON messages(user_id, conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_message_embeddings_hnsw
			ON message_embeddings USING hnsw (embedding vector_cosine_ops);

		CREATE OR REPLACE FUNCTION match_messages(
			query_embedding vector(%[1]d),
			similarity_threshold float,
			match_count int,
			p_user_id text,
			p_conversation_id text
		)
		RETURNS TABLE (
			id uuid,
			user_id text,
			conversation_id text,
			role varchar,
			content text,
			metadata jsonb,
			created_at timestamptz,
			similarity float
		)
		LANGUAGE sql STABLE
		AS $$
			SELECT m.id, m.user_id, m.conversation_id, m.role, m.content, m.metadata, m.created_at,
			       1 - (e.embedding <=> query_embedding) AS similarity
			FROM message_embeddings e
			JOIN messages m ON m.id = e.message_id
			WHERE m.user_id = p_user_id
			  AND m.conversation_id = p_conversation_id
			  AND 1 - (e.embedding <=> query_embedding) >= similarity_threshold
			ORDER BY e.embedding <=> query_embedding
			LIMIT match_count;
		$$;
	`, dimensions)
}

// InitSchema creates the pgvector extension, tables, indexes and the
// match_messages search function.
func (db *DB) InitSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", dimensions)
	}

	if _, err := db.ExecContext(ctx, SchemaSQL(dimensions)); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully", zap.Int("dimensions", dimensions))
	return nil
}
