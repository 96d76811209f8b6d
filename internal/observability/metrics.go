package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Retrieval outcomes
const (
	OutcomeEmpty    = "empty"
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Metrics collects application metrics.
type Metrics interface {
	RecordRetrieval(ctx context.Context, labels RetrievalLabels, duration time.Duration)
	RecordCandidates(ctx context.Context, count int)
	RecordRerankFallback(ctx context.Context, reason string)
	RecordProviderCall(ctx context.Context, labels ProviderLabels, duration time.Duration)
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// RetrievalLabels contains dimensions for one GetRelevantContext call.
type RetrievalLabels struct {
	Outcome  string
	Reranked bool
}

// ProviderLabels contains dimensions for one outbound provider request.
type ProviderLabels struct {
	Provider  string
	Operation string
	Status    string // "ok" or the error code
}

// PrometheusMetrics implements Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	retrievalTotal   *prometheus.CounterVec
	retrievalLatency *prometheus.HistogramVec
	candidates       prometheus.Histogram
	rerankFallbacks  *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		retrievalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "context_retrievals_total",
				Help: "Total number of context retrievals by outcome.",
			},
			[]string{"outcome", "reranked"},
		),
		retrievalLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "context_retrieval_duration_seconds",
				Help:    "End-to-end duration of context retrieval.",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"reranked"},
		),
		candidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "context_retrieval_candidates",
				Help:    "Number of candidates returned by similarity search.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),
		rerankFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "context_rerank_fallbacks_total",
				Help: "Retrievals that fell back to similarity-only ranking.",
			},
			[]string{"reason"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_requests_total",
				Help: "Outbound provider requests by provider, operation and status.",
			},
			[]string{"provider", "operation", "status"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_request_duration_seconds",
				Help:    "Duration of outbound provider requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(
		m.retrievalTotal, m.retrievalLatency, m.candidates, m.rerankFallbacks,
		m.providerCalls, m.providerLatency, m.httpRequests, m.httpLatency,
	)
	return m
}

func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, labels RetrievalLabels, duration time.Duration) {
	reranked := strconv.FormatBool(labels.Reranked)
	m.retrievalTotal.WithLabelValues(labels.Outcome, reranked).Inc()
	m.retrievalLatency.WithLabelValues(reranked).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordCandidates(ctx context.Context, count int) {
	m.candidates.Observe(float64(count))
}

func (m *PrometheusMetrics) RecordRerankFallback(ctx context.Context, reason string) {
	m.rerankFallbacks.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordProviderCall(ctx context.Context, labels ProviderLabels, duration time.Duration) {
	m.providerCalls.WithLabelValues(labels.Provider, labels.Operation, labels.Status).Inc()
	m.providerLatency.WithLabelValues(labels.Provider, labels.Operation).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordRetrieval(context.Context, RetrievalLabels, time.Duration)   {}
func (NopMetrics) RecordCandidates(context.Context, int)                             {}
func (NopMetrics) RecordRerankFallback(context.Context, string)                      {}
func (NopMetrics) RecordProviderCall(context.Context, ProviderLabels, time.Duration) {}
func (NopMetrics) RecordHTTPRequest(string, string, int, time.Duration)              {}
