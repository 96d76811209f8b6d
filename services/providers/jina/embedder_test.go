package jina

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/context-retrieval/internal/observability"
	"github.com/upb/context-retrieval/services/providers"
	"go.uber.org/zap/zaptest"
)

const testDims = 4

// vectorFor derives a deterministic vector from the input text
func vectorFor(text string) []float32 {
	return []float32{float32(len(text)), 1, 0, 0}
}

// embeddingServer answers like the embeddings endpoint and records requests
type embeddingServer struct {
	mu       sync.Mutex
	requests []embeddingRequest
	fail     func(req embeddingRequest) int // status to return, 0 for success
}

func (s *embeddingServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if s.fail != nil {
			if status := s.fail(req); status != 0 {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"detail":"upstream exploded"}`))
				return
			}
		}

		resp := embeddingResponse{Model: req.Model}
		for i, in := range req.Input {
			idx := i
			resp.Data = append(resp.Data, embeddingData{Object: "embedding", Index: &idx, Embedding: vectorFor(in)})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (s *embeddingServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestEmbedder(t *testing.T, url string, mutate func(*EmbedderConfig), opts ...Option) *Embedder {
	t.Helper()
	cfg := EmbedderConfig{
		ProviderConfig: providers.ProviderConfig{
			APIKey:     "test-key",
			BaseURL:    url,
			Timeout:    2 * time.Second,
			RetryDelay: time.Millisecond,
		},
		Dimensions: testDims,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEmbedder(cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return e
}

func TestNewEmbedder_Defaults(t *testing.T) {
	e, err := NewEmbedder(EmbedderConfig{ProviderConfig: providers.ProviderConfig{APIKey: "k"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "jina", e.Name())
	assert.Equal(t, "jina-embeddings-v3", e.Model())
	assert.Equal(t, 1024, e.Dimensions())
	assert.Equal(t, 10, e.batchSize)
	assert.Equal(t, 1, e.concurrency)
	assert.Equal(t, defaultBaseURL, e.client.config.BaseURL)
	assert.Equal(t, 10*time.Second, e.client.httpClient.Timeout)
}

func TestNewEmbedder_RequiresAPIKey(t *testing.T) {
	_, err := NewEmbedder(EmbedderConfig{}, nil)
	assert.Error(t, err)
}

func TestEmbedder_Embed_RequestShape(t *testing.T) {
	srv := &embeddingServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, func(c *EmbedderConfig) { c.Task = "retrieval.query" })

	vec, err := e.Embed(context.Background(), "Tell me about cats")
	require.NoError(t, err)
	assert.Equal(t, vectorFor("Tell me about cats"), vec)

	require.Equal(t, 1, srv.count())
	req := srv.requests[0]
	assert.Equal(t, "jina-embeddings-v3", req.Model)
	assert.Equal(t, "retrieval.query", req.Task)
	assert.Equal(t, testDims, req.Dimensions)
	assert.Equal(t, "float", req.EmbeddingType)
	assert.Equal(t, []string{"Tell me about cats"}, req.Input)
}

func TestEmbedder_Embed_BlankInputMakesNoCall(t *testing.T) {
	srv := &embeddingServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		vec, err := e.Embed(context.Background(), text)
		assert.NoError(t, err)
		assert.Nil(t, vec)
	}
	assert.Equal(t, 0, srv.count())
}

func TestEmbedder_EmbedBatch_ChunksAndPreservesPositions(t *testing.T) {
	srv := &embeddingServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, nil)

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}

	out, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, 25)

	assert.Equal(t, 3, srv.count(), "25 inputs in chunks of 10")
	assert.Len(t, srv.requests[0].Input, 10)
	assert.Len(t, srv.requests[1].Input, 10)
	assert.Len(t, srv.requests[2].Input, 5)
	for i, text := range texts {
		assert.Equal(t, vectorFor(text), out[i], "position %d", i)
	}
}

func TestEmbedder_EmbedBatch_BlankEntriesStayNil(t *testing.T) {
	srv := &embeddingServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, nil)

	out, err := e.EmbedBatch(context.Background(), []string{"first", "  ", "third", ""})
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, vectorFor("first"), out[0])
	assert.Nil(t, out[1])
	assert.Equal(t, vectorFor("third"), out[2])
	assert.Nil(t, out[3])

	require.Equal(t, 1, srv.count())
	assert.Equal(t, []string{"first", "third"}, srv.requests[0].Input)
}

func TestEmbedder_EmbedBatch_AllBlankOrEmpty(t *testing.T) {
	srv := &embeddingServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, nil)

	out, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = e.EmbedBatch(context.Background(), []string{" ", ""})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{nil, nil}, out)
	assert.Equal(t, 0, srv.count())
}

func TestEmbedder_EmbedBatch_PartialFailure(t *testing.T) {
	srv := &embeddingServer{
		fail: func(req embeddingRequest) int {
			if req.Input[0] == "bad" {
				return http.StatusBadRequest
			}
			return 0
		},
	}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, func(c *EmbedderConfig) { c.BatchSize = 2 })

	texts := []string{"ok-1", "ok-2", "", "bad", "ok-3"}
	out, err := e.EmbedBatch(context.Background(), texts)
	require.Error(t, err)

	var batchErr *providers.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, []int{3, 4}, batchErr.Failed)
	assert.Equal(t, 5, batchErr.Total)
	assert.True(t, providers.IsEmbeddingError(err))

	assert.Equal(t, vectorFor("ok-1"), out[0])
	assert.Equal(t, vectorFor("ok-2"), out[1])
	assert.Nil(t, out[2])
	assert.Nil(t, out[3])
	assert.Nil(t, out[4])
}

func TestEmbedder_EmbedBatch_Concurrent(t *testing.T) {
	var inFlight, peak int32
	srv := &embeddingServer{}
	inner := srv.handler(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inner(w, r)
		atomic.AddInt32(&inFlight, -1)
	}))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, func(c *EmbedderConfig) {
		c.BatchSize = 1
		c.Concurrency = 3
	})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	out, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	for i, text := range texts {
		assert.Equal(t, vectorFor(text), out[i])
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, 6, srv.count())
}

func TestEmbedder_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := &embeddingServer{
		fail: func(req embeddingRequest) int {
			if atomic.AddInt32(&calls, 1) < 3 {
				return http.StatusServiceUnavailable
			}
			return 0
		},
	}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, func(c *EmbedderConfig) { c.MaxRetries = 2 })

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, vectorFor("hello"), vec)
	assert.Equal(t, 3, srv.count(), "every attempt must resend the full body")
	for _, req := range srv.requests {
		assert.Equal(t, []string{"hello"}, req.Input)
	}
}

func TestEmbedder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retries   int
		wantCalls int
		retryable bool
	}{
		{"bad request is not retried", http.StatusBadRequest, 2, 1, false},
		{"unauthorized is not retried", http.StatusUnauthorized, 2, 1, false},
		{"rate limit is retried", http.StatusTooManyRequests, 1, 2, true},
		{"server error is retried", http.StatusInternalServerError, 2, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &embeddingServer{fail: func(embeddingRequest) int { return tt.status }}
			ts := httptest.NewServer(srv.handler(t))
			defer ts.Close()

			e := newTestEmbedder(t, ts.URL, func(c *EmbedderConfig) { c.MaxRetries = tt.retries })

			_, err := e.Embed(context.Background(), "hello")
			require.Error(t, err)

			var provErr *providers.ProviderError
			require.True(t, errors.As(err, &provErr))
			assert.Equal(t, providers.OperationEmbed, provErr.Operation)
			assert.Equal(t, tt.status, provErr.StatusCode)
			assert.Equal(t, "upstream exploded", provErr.Message)
			assert.Equal(t, tt.retryable, provErr.Retryable)
			assert.Equal(t, tt.wantCalls, srv.count())
		})
	}
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2]}]}`))
	}))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, nil)

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)

	var provErr *providers.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "DIMENSION_MISMATCH", provErr.Code)
}

func TestEmbedder_WrongCountIsAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, nil)

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1 embeddings, got 0")
}

func TestEmbedder_ContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, func(c *EmbedderConfig) { c.MaxRetries = 3 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Embed(ctx, "hello")
	require.Error(t, err)
	assert.False(t, providers.IsRetryable(err))
}

func TestEmbedder_RecordsProviderMetrics(t *testing.T) {
	srv := &embeddingServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewPrometheusMetrics(reg)
	e := newTestEmbedder(t, ts.URL, nil, WithMetrics(metrics))

	_, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "provider_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEmbedder_RateLimited(t *testing.T) {
	srv := &embeddingServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	e := newTestEmbedder(t, ts.URL, func(c *EmbedderConfig) {
		c.BatchSize = 1
		c.RequestsPerSecond = 20
	})
	require.NotNil(t, e.client.limiter)

	start := time.Now()
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	// burst of 20 covers all four requests
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 4, srv.count())
}
