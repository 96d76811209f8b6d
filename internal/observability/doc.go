// Package observability provides structured logging and metrics for the
// context retrieval service.
//
// Logging is zap-based; loggers pick up the chi request ID from the request
// context. Metrics are exported through Prometheus and cover the retrieval
// pipeline (latency, outcomes, candidate counts, rerank fallbacks), the
// outbound provider calls, and HTTP traffic. NopMetrics is used in tests
// and when metrics are disabled.
package observability
