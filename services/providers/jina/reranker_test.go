package jina

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/context-retrieval/services/providers"
	"go.uber.org/zap/zaptest"
)

func newTestReranker(t *testing.T, url string) *Reranker {
	t.Helper()
	r, err := NewReranker(providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Timeout: 2 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestNewReranker(t *testing.T) {
	_, err := NewReranker(providers.ProviderConfig{}, nil)
	assert.Error(t, err)

	r, err := NewReranker(providers.ProviderConfig{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "jina", r.Name())
	assert.Equal(t, "jina-reranker-v2-base-multilingual", r.model)
	assert.Equal(t, 30*time.Second, r.client.httpClient.Timeout)
}

func TestReranker_ScattersScoresByIndex(t *testing.T) {
	var got rerankRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[
			{"index":2,"relevance_score":0.9},
			{"index":0,"relevance_score":0.4}
		]}`))
	}))
	defer ts.Close()

	r := newTestReranker(t, ts.URL)
	docs := []string{"cats nap", "dogs bark", "cats purr"}

	scores, err := r.Rerank(context.Background(), "Tell me about cats", docs, 2)
	require.NoError(t, err)

	assert.Equal(t, []float64{0.4, 0, 0.9}, scores, "unscored documents get 0")
	assert.Equal(t, "Tell me about cats", got.Query)
	assert.Equal(t, docs, got.Documents)
	assert.Equal(t, 2, got.TopN)
	assert.Equal(t, "jina-reranker-v2-base-multilingual", got.Model)
}

func TestReranker_TopNDefaultsToDocumentCount(t *testing.T) {
	var got rerankRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer ts.Close()

	r := newTestReranker(t, ts.URL)

	scores, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, scores)
	assert.Equal(t, 3, got.TopN)

	_, err = r.Rerank(context.Background(), "q", []string{"a"}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TopN)
}

func TestReranker_EmptyDocumentsMakesNoCall(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer ts.Close()

	r := newTestReranker(t, ts.URL)

	scores, err := r.Rerank(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	assert.NotNil(t, scores)
	assert.Empty(t, scores)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestReranker_OutOfRangeIndex(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":5,"relevance_score":0.9}]}`))
	}))
	defer ts.Close()

	r := newTestReranker(t, ts.URL)

	_, err := r.Rerank(context.Background(), "q", []string{"a", "b"}, 2)
	require.Error(t, err)
	assert.True(t, providers.IsRerankError(err))
}

func TestReranker_HTTPFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer ts.Close()

	r := newTestReranker(t, ts.URL)

	scores, err := r.Rerank(context.Background(), "q", []string{"a"}, 1)
	require.Error(t, err)
	assert.Nil(t, scores)

	var provErr *providers.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, providers.OperationRerank, provErr.Operation)
	assert.Equal(t, http.StatusServiceUnavailable, provErr.StatusCode)
	assert.Equal(t, "overloaded", provErr.Message)
	assert.True(t, provErr.Retryable)
}

func TestReranker_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	r, err := NewReranker(providers.ProviderConfig{
		APIKey:  "k",
		BaseURL: ts.URL,
		Timeout: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", []string{"a"}, 1)
	require.Error(t, err)
	assert.True(t, providers.IsRerankError(err))
}

func TestHandleErrorResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"detail string", 422, `{"detail":"input too long"}`, "input too long"},
		{"detail object", 422, `{"detail":[{"msg":"bad"}]}`, `[{"msg":"bad"}]`},
		{"error object", 401, `{"error":{"message":"invalid key"}}`, "invalid key"},
		{"plain text", 502, `bad gateway`, "bad gateway"},
		{"empty body", 504, ``, "Gateway Timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handleErrorResponse(providers.OperationEmbed, tt.status, []byte(tt.body))

			var provErr *providers.ProviderError
			require.True(t, errors.As(err, &provErr))
			assert.Equal(t, tt.message, provErr.Message)
			assert.Equal(t, tt.status, provErr.StatusCode)
		})
	}
}
