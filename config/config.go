package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Store         StoreConfig
	Embedding     EmbeddingConfig
	Reranker      RerankerConfig
	Retrieval     RetrievalConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// StoreConfig selects the vector store backend
type StoreConfig struct {
	Driver     string // postgres or memory
	InitSchema bool   // create tables, indexes and search function on startup
}

// EmbeddingConfig holds the embedding provider configuration
type EmbeddingConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Task              string
	Dimensions        int
	BatchSize         int
	Concurrency       int
	Timeout           time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerSecond float64 // 0 disables client-side rate limiting
	CacheSize         int     // 0 disables the query embedding cache
	CacheTTL          time.Duration
}

// RerankerConfig holds the reranking provider configuration
type RerankerConfig struct {
	Enabled    bool
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// RetrievalConfig holds the thresholds and weights of the ranking pipeline
type RetrievalConfig struct {
	SimilarityThreshold       float64
	RerankCandidateThreshold  float64
	RerankCandidateLimit      int
	RerankGate                float64
	VectorWeight              float64
	RerankerWeight            float64
	DefaultLimit              int
	MaxLimit                  int
	DegradeOnEmbeddingFailure bool
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
	MetricsPath    string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 45*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: loadDatabaseConfig(),
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
			InitSchema: getEnvAsBool("STORE_INIT_SCHEMA", false),
		},
		Embedding: EmbeddingConfig{
			APIKey:            getEnv("EMBEDDING_API_KEY", ""),
			BaseURL:           getEnv("EMBEDDING_BASE_URL", "https://api.jina.ai/v1"),
			Model:             getEnv("EMBEDDING_MODEL", "jina-embeddings-v3"),
			Task:              getEnv("EMBEDDING_TASK", "text-matching"),
			Dimensions:        getEnvAsInt("EMBEDDING_DIMENSIONS", 1024),
			BatchSize:         getEnvAsInt("EMBEDDING_BATCH_SIZE", 10),
			Concurrency:       getEnvAsInt("EMBEDDING_CONCURRENCY", 1),
			Timeout:           getEnvAsDuration("EMBEDDING_TIMEOUT", 10*time.Second),
			MaxRetries:        getEnvAsInt("EMBEDDING_MAX_RETRIES", 2),
			RetryDelay:        getEnvAsDuration("EMBEDDING_RETRY_DELAY", 500*time.Millisecond),
			RequestsPerSecond: getEnvAsFloat("EMBEDDING_RATE_LIMIT", 0),
			CacheSize:         getEnvAsInt("EMBEDDING_CACHE_SIZE", 0),
			CacheTTL:          getEnvAsDuration("EMBEDDING_CACHE_TTL", 10*time.Minute),
		},
		Reranker: RerankerConfig{
			Enabled:    getEnvAsBool("RERANKER_ENABLED", true),
			APIKey:     getEnv("RERANKER_API_KEY", getEnv("EMBEDDING_API_KEY", "")),
			BaseURL:    getEnv("RERANKER_BASE_URL", "https://api.jina.ai/v1"),
			Model:      getEnv("RERANKER_MODEL", "jina-reranker-v2-base-multilingual"),
			Timeout:    getEnvAsDuration("RERANKER_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvAsInt("RERANKER_MAX_RETRIES", 0),
			RetryDelay: getEnvAsDuration("RERANKER_RETRY_DELAY", 500*time.Millisecond),
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold:       getEnvAsFloat("RETRIEVAL_SIMILARITY_THRESHOLD", 0.65),
			RerankCandidateThreshold:  getEnvAsFloat("RETRIEVAL_RERANK_THRESHOLD", 0.3),
			RerankCandidateLimit:      getEnvAsInt("RETRIEVAL_RERANK_CANDIDATES", 20),
			RerankGate:                getEnvAsFloat("RETRIEVAL_RERANK_GATE", 0.4),
			VectorWeight:              getEnvAsFloat("RETRIEVAL_VECTOR_WEIGHT", 0.8),
			RerankerWeight:            getEnvAsFloat("RETRIEVAL_RERANKER_WEIGHT", 0.2),
			DefaultLimit:              getEnvAsInt("RETRIEVAL_DEFAULT_LIMIT", 5),
			MaxLimit:                  getEnvAsInt("RETRIEVAL_MAX_LIMIT", 50),
			DegradeOnEmbeddingFailure: getEnvAsBool("RETRIEVAL_DEGRADE_ON_EMBED_FAILURE", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPath:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case StoreDriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory store is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown store driver %q: use postgres or memory", c.Store.Driver)
	}

	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding API key is required: set EMBEDDING_API_KEY")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding batch size must be positive")
	}
	if c.Reranker.Enabled && c.Reranker.APIKey == "" {
		return fmt.Errorf("reranker API key is required when RERANKER_ENABLED is true")
	}

	r := c.Retrieval
	for name, v := range map[string]float64{
		"similarity threshold":       r.SimilarityThreshold,
		"rerank candidate threshold": r.RerankCandidateThreshold,
		"rerank gate":                r.RerankGate,
		"vector weight":              r.VectorWeight,
		"reranker weight":            r.RerankerWeight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("retrieval %s must be between 0 and 1, got %v", name, v)
		}
	}
	if r.DefaultLimit <= 0 || r.RerankCandidateLimit <= 0 {
		return fmt.Errorf("retrieval limits must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "dev")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "conversations")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
