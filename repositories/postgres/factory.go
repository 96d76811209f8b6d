package postgres

import (
	"context"

	"github.com/upb/context-retrieval/config"
	"github.com/upb/context-retrieval/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db         *DB
	dimensions int
	logger     *zap.Logger
}

// NewRepositoryFactory opens the database and creates a repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return NewRepositoryFactoryFromDB(db, cfg.Embedding.Dimensions, logger), nil
}

// NewRepositoryFactoryFromDB creates a factory over an existing pool
func NewRepositoryFactoryFromDB(db *DB, dimensions int, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, dimensions: dimensions, logger: logger}
}

// InitSchema creates the schema for the configured vector dimension
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx, f.dimensions)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Messages:   NewMessageRepository(f.db, f.logger),
		Embeddings: NewEmbeddingRepository(f.db, f.dimensions, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
