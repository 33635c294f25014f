package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckqa_questions_total",
			Help: "Total number of answered questions by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	questionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckqa_question_latency_ms",
			Help:    "End-to-end question latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"mode"},
	)
	intentMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckqa_intent_matches_total",
			Help: "Intent matcher outcomes. Unresolved questions use intent=\"none\".",
		},
		[]string{"intent"},
	)
	validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckqa_validation_failures_total",
			Help: "Failed SQL guard checks by check name and SQL source.",
		},
		[]string{"check", "source"},
	)
	queryDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckqa_query_duration_ms",
			Help:    "DuckDB execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)
	queryTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckqa_query_timeouts_total",
			Help: "Total number of queries abandoned at the execution timeout.",
		},
	)
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckqa_llm_requests_total",
			Help: "SQL generation requests by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	llmFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckqa_llm_fallbacks_total",
			Help: "Total number of fallbacks to the secondary model.",
		},
	)
	resultCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckqa_result_cache_lookups_total",
			Help: "Result cache lookups by outcome.",
		},
		[]string{"result"},
	)
	datasetRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckqa_dataset_refreshes_total",
			Help: "Dataset refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)
	datasetRefreshDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckqa_dataset_refresh_duration_ms",
			Help:    "Dataset refresh latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
	)
	datasetRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duckqa_dataset_rows",
			Help: "Row count per loaded table.",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		questionLatencyMs,
		intentMatchesTotal,
		validationFailuresTotal,
		queryDurationMs,
		queryTimeoutsTotal,
		llmRequestsTotal,
		llmFallbacksTotal,
		resultCacheLookupsTotal,
		datasetRefreshesTotal,
		datasetRefreshDurationMs,
		datasetRows,
	)
}

func ObserveQuestion(mode, outcome string, elapsed time.Duration) {
	questionsTotal.WithLabelValues(mode, outcome).Inc()
	questionLatencyMs.WithLabelValues(mode).Observe(float64(elapsed.Milliseconds()))
}

func ObserveIntentMatch(intent string) {
	if intent == "" {
		intent = "none"
	}
	intentMatchesTotal.WithLabelValues(intent).Inc()
}

func IncrementValidationFailure(check, source string) {
	validationFailuresTotal.WithLabelValues(check, source).Inc()
}

func ObserveQueryExecution(elapsed time.Duration, timedOut bool) {
	queryDurationMs.Observe(float64(elapsed.Milliseconds()))
	if timedOut {
		queryTimeoutsTotal.Inc()
	}
}

func ObserveLLMRequest(provider, outcome string) {
	llmRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

func IncrementLLMFallback() {
	llmFallbacksTotal.Inc()
}

func ObserveResultCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	resultCacheLookupsTotal.WithLabelValues(result).Inc()
}

func ObserveDatasetRefresh(outcome string, elapsed time.Duration) {
	datasetRefreshesTotal.WithLabelValues(outcome).Inc()
	datasetRefreshDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func SetDatasetRows(table string, rows int64) {
	if rows < 0 {
		rows = 0
	}
	datasetRows.WithLabelValues(table).Set(float64(rows))
}
