package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/context-retrieval/internal/observability"
	"github.com/upb/context-retrieval/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func scopedRouter(t *testing.T, got *models.Scope) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/conversations/{conversationID}", func(r chi.Router) {
		r.Use(ExtractScope(zap.NewNop()))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			scope, ok := GetScopeFromContext(r.Context())
			require.True(t, ok)
			*got = scope
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

func TestExtractScope(t *testing.T) {
	t.Run("builds scope from header and route", func(t *testing.T) {
		var got models.Scope
		req := httptest.NewRequest(http.MethodGet, "/conversations/conv-42/", nil)
		req.Header.Set(UserIDHeader, " user-7 ")
		w := httptest.NewRecorder()

		scopedRouter(t, &got).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, models.Scope{UserID: "user-7", ConversationID: "conv-42"}, got)
	})

	t.Run("missing user id is unauthorized", func(t *testing.T) {
		var got models.Scope
		req := httptest.NewRequest(http.MethodGet, "/conversations/conv-42/", nil)
		w := httptest.NewRecorder()

		scopedRouter(t, &got).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), UserIDHeader)
		assert.Equal(t, models.Scope{}, got)
	})
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewPrometheusMetrics(reg)

	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}

	expected := `
# HELP http_requests_total Total number of HTTP requests.
# TYPE http_requests_total counter
http_requests_total{method="GET",path="/items/{id}",status="418"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "http_requests_total"))
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := chi.NewRouter()
	r.Use(RequestLogger(zap.New(core)))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/bad", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) })
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })

	for _, path := range []string{"/ok", "/bad", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, int64(http.StatusBadGateway), entries[2].ContextMap()["status"])
}
