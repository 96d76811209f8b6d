package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/upb/context-retrieval/config"
	"github.com/upb/context-retrieval/handlers"
	"github.com/upb/context-retrieval/internal/observability"
	"github.com/upb/context-retrieval/repositories"
	"github.com/upb/context-retrieval/repositories/memory"
	"github.com/upb/context-retrieval/repositories/postgres"
	"github.com/upb/context-retrieval/services/providers"
	"github.com/upb/context-retrieval/services/providers/jina"
	"github.com/upb/context-retrieval/services/retrieval"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// DB and RepoFactory are nil when the memory store is selected
	DB          *postgres.DB
	RepoFactory *postgres.RepositoryFactory
	MemoryStore *memory.Store

	Repositories *repositories.Repositories
	TxManager    repositories.TransactionManager

	// Providers
	Embedder   *jina.Embedder
	QueryCache *providers.CachedEmbedder
	Reranker   providers.Reranker

	// Metrics
	Registry *prometheus.Registry
	Metrics  observability.Metrics

	ContextService *retrieval.ContextService
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics(cfg)

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initService(cfg); err != nil {
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize context service: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("reranker", deps.Reranker != nil),
		zap.Bool("query_cache", deps.QueryCache != nil))
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewPrometheusMetrics(d.Registry)
}

// initStore opens the configured vector store
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		d.MemoryStore = memory.NewStore(cfg.Embedding.Dimensions, d.Logger)
		d.Repositories = d.MemoryStore.NewRepositories()
		d.TxManager = d.MemoryStore.GetTransactionManager()
		d.Logger.Warn("using in-memory store, data is not persisted")
		return nil

	case config.StoreDriverPostgres:
		factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		d.RepoFactory = factory
		d.DB = factory.GetDB()

		if err := d.DB.PingContext(ctx); err != nil {
			d.closeStore()
			return fmt.Errorf("database ping failed: %w", err)
		}
		if cfg.Store.InitSchema {
			if err := factory.InitSchema(ctx); err != nil {
				d.closeStore()
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
		}

		d.Repositories = factory.NewRepositories()
		d.TxManager = factory.GetTransactionManager()
		d.Logger.Info("database connection established",
			zap.String("connection", cfg.Database.LogString()))
		return nil
	}
	return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// initProviders builds the embedding and reranking adapters
func (d *Dependencies) initProviders(cfg *config.Config) error {
	opts := []jina.Option{jina.WithMetrics(d.Metrics)}

	embedder, err := jina.NewEmbedder(jina.EmbedderConfig{
		ProviderConfig: providers.ProviderConfig{
			APIKey:            cfg.Embedding.APIKey,
			BaseURL:           cfg.Embedding.BaseURL,
			Model:             cfg.Embedding.Model,
			Timeout:           cfg.Embedding.Timeout,
			MaxRetries:        cfg.Embedding.MaxRetries,
			RetryDelay:        cfg.Embedding.RetryDelay,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		},
		Task:        cfg.Embedding.Task,
		Dimensions:  cfg.Embedding.Dimensions,
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
	}, d.Logger, opts...)
	if err != nil {
		return err
	}
	d.Embedder = embedder

	if cfg.Embedding.CacheSize > 0 {
		d.QueryCache = providers.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
	}

	if !cfg.Reranker.Enabled {
		d.Logger.Info("reranker disabled, ranking by similarity only")
		return nil
	}
	reranker, err := jina.NewReranker(providers.ProviderConfig{
		APIKey:     cfg.Reranker.APIKey,
		BaseURL:    cfg.Reranker.BaseURL,
		Model:      cfg.Reranker.Model,
		Timeout:    cfg.Reranker.Timeout,
		MaxRetries: cfg.Reranker.MaxRetries,
		RetryDelay: cfg.Reranker.RetryDelay,
	}, d.Logger, opts...)
	if err != nil {
		return err
	}
	d.Reranker = reranker
	return nil
}

func (d *Dependencies) initService(cfg *config.Config) error {
	serviceDeps := retrieval.Dependencies{
		Embedder:     d.Embedder,
		Repositories: d.Repositories,
		TxManager:    d.TxManager,
		Metrics:      d.Metrics,
	}
	// Assigning a nil *CachedEmbedder or reranker would produce a non-nil interface
	if d.QueryCache != nil {
		serviceDeps.QueryEmbedder = d.QueryCache
	}
	if d.Reranker != nil {
		serviceDeps.Reranker = d.Reranker
	}

	svc, err := retrieval.NewContextService(serviceDeps, retrieval.SettingsFromConfig(cfg.Retrieval), d.Logger)
	if err != nil {
		return err
	}
	d.ContextService = svc
	return nil
}

// HealthChecks returns the readiness probes for the configured store
func (d *Dependencies) HealthChecks() map[string]handlers.HealthChecker {
	checks := map[string]handlers.HealthChecker{}
	if d.DB != nil {
		checks["database"] = d.DB
	}
	return checks
}

func (d *Dependencies) closeStore() error {
	if d.RepoFactory == nil {
		return nil
	}
	err := d.RepoFactory.Close()
	d.RepoFactory = nil
	d.DB = nil
	return err
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error
	if d.RepoFactory != nil {
		if err := d.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
