package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Operation names the provider call that failed
type Operation string

const (
	OperationEmbed  Operation = "embed"
	OperationRerank Operation = "rerank"
)

// Embedder turns text into fixed-dimension vectors
type Embedder interface {
	// Name returns the provider name (e.g., "jina")
	Name() string

	// Model returns the model identifier stored alongside each vector
	Model() string

	// Dimensions returns the length of every vector this embedder produces
	Dimensions() int

	// Embed returns the vector for a single text. Blank text yields
	// (nil, nil) without contacting the provider.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one entry per input, in input order. Blank inputs
	// map to nil and are never sent. If some chunks fail, the vectors that
	// succeeded are returned in place together with a *BatchError.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker scores documents against a query with a cross-encoder
type Reranker interface {
	// Name returns the provider name
	Name() string

	// Rerank returns one relevance score per document, positionally aligned
	// with documents. Documents the provider did not score get 0.
	// Empty documents yields an empty slice without contacting the provider.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]float64, error)
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Model identifier sent with every request
	Model string

	// Timeout for a single HTTP request
	Timeout time.Duration

	// MaxRetries for failed requests
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// RequestsPerSecond caps outbound calls; 0 disables the limiter
	RequestsPerSecond float64

	// Additional headers
	Headers map[string]string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Headers:    make(map[string]string),
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Operation that failed
	Operation Operation

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	prefix := e.Provider
	if e.Operation != "" {
		prefix += " " + string(e.Operation)
	}
	msg := fmt.Sprintf("%s: %s", prefix, e.Message)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, op Operation, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Operation:  op,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// IsEmbeddingError reports whether err came from an embedding call
func IsEmbeddingError(err error) bool {
	var provErr *ProviderError
	return errors.As(err, &provErr) && provErr.Operation == OperationEmbed
}

// IsRerankError reports whether err came from a rerank call
func IsRerankError(err error) bool {
	var provErr *ProviderError
	return errors.As(err, &provErr) && provErr.Operation == OperationRerank
}

// BatchError reports the input positions of a batch that could not be
// embedded. Err is the first chunk failure.
type BatchError struct {
	Failed []int
	Total  int
	Err    error
}

// Error implements the error interface
func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding failed for %d of %d inputs: %v", len(e.Failed), e.Total, e.Err)
}

// Unwrap implements error unwrapping
func (e *BatchError) Unwrap() error {
	return e.Err
}

// NewBatchError builds a BatchError with sorted positions
func NewBatchError(failed []int, total int, err error) *BatchError {
	sorted := append([]int(nil), failed...)
	sort.Ints(sorted)
	return &BatchError{Failed: sorted, Total: total, Err: err}
}

// IsBlank reports whether text has no embeddable content
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
