package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/context-retrieval/internal/observability"
	"github.com/upb/context-retrieval/services/providers"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	providerName   = "jina"
	defaultBaseURL = "https://api.jina.ai/v1"
	maxErrorBody   = 4 << 10
)

// Option customizes an adapter
type Option func(*client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMetrics records every outbound request
func WithMetrics(m observability.Metrics) Option {
	return func(c *client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// client is the HTTP plumbing shared by the embedder and reranker
type client struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    observability.Metrics
	logger     *zap.Logger
}

func newClient(cfg providers.ProviderConfig, defaultTimeout time.Duration, logger *zap.Logger, opts ...Option) *client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    observability.NopMetrics{},
		logger:     logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// post sends payload as JSON to path and decodes a 2xx response into out.
// Transport errors, 429 and 5xx responses are retried with backoff.
func (c *client) post(ctx context.Context, op providers.Operation, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.NewProviderError(providerName, op, "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	start := time.Now()
	err = c.postWithRetry(ctx, op, path, body, out)
	c.metrics.RecordProviderCall(ctx, observability.ProviderLabels{
		Provider:  providerName,
		Operation: string(op),
		Status:    statusLabel(err),
	}, time.Since(start))
	return err
}

func (c *client) postWithRetry(ctx context.Context, op providers.Operation, path string, body []byte, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := providers.Backoff(c.config.RetryDelay, attempt)
			c.logger.Debug("retrying provider request",
				zap.String("operation", string(op)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, delay); err != nil {
				return providers.NewProviderError(providerName, op, "CANCELED", "request canceled", 0, false, err)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return providers.NewProviderError(providerName, op, "CANCELED", "rate limiter wait canceled", 0, false, err)
			}
		}

		lastErr = c.do(ctx, op, path, body, out)
		if lastErr == nil || !providers.IsRetryable(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}

	return lastErr
}

func (c *client) do(ctx context.Context, op providers.Operation, path string, body []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return providers.NewProviderError(providerName, op, "REQUEST_ERROR", "failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		retryable := ctx.Err() == nil
		code := "HTTP_ERROR"
		if errors.Is(err, context.DeadlineExceeded) {
			code = "TIMEOUT"
		}
		return providers.NewProviderError(providerName, op, code, "HTTP request failed", 0, retryable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return handleErrorResponse(op, httpResp.StatusCode, respBody)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return providers.NewProviderError(providerName, op, "UNMARSHAL_ERROR", "failed to decode response", httpResp.StatusCode, false, err)
	}
	return nil
}

// handleErrorResponse maps a non-2xx response to a ProviderError
func handleErrorResponse(op providers.Operation, statusCode int, body []byte) error {
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests
	code := fmt.Sprintf("HTTP_%d", statusCode)

	message := strings.TrimSpace(string(body))
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if m := errResp.message(); m != "" {
			message = m
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return providers.NewProviderError(providerName, op, code, message, statusCode, retryable, nil)
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var provErr *providers.ProviderError
	if errors.As(err, &provErr) && provErr.Code != "" {
		return provErr.Code
	}
	return "error"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
