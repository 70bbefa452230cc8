// Package observability provides logging, metrics, and tracing support for
// the study aggregation service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for runs, searches, records, and sources
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("run_id", runID).Msg("aggregation run started")
//
// Add run context to logger:
//
//	logger = observability.WithRunContext(logger, requestID, runID)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("studyagg")
//
// Record metrics:
//
//	metrics.RunsStarted.Inc()
//	metrics.SearchesStarted.WithLabelValues("pubmed").Inc()
//	metrics.RecordsIngested.WithLabelValues("pubmed").Add(42)
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithRunID(ctx, runID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	runID := observability.RunIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - run_id: Aggregation run identifier
//   - query: Search expression submitted to the sources
//   - source: Record source (pubmed, cochrane, clinicaltrials)
//   - record_id: Source-assigned record identifier
//   - dedup_key: Merged entity identifier within a run
//   - trace_id: Distributed trace identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
