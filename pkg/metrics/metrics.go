package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airesearch_pipeline_runs_total",
			Help: "Total number of research pipeline runs",
		},
		[]string{"outcome"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airesearch_pipeline_duration_seconds",
			Help:    "End-to-end research pipeline duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	PipelineLoops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airesearch_pipeline_loops",
			Help:    "Plan/evaluate loops used per run",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	PipelineOverallScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airesearch_pipeline_overall_score",
			Help:    "Final rubric overall score per run",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airesearch_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airesearch_stage_failures_total",
			Help: "Stages that aborted the workflow",
		},
		[]string{"stage"},
	)

	// Gateway metrics
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airesearch_gateway_requests_total",
			Help: "Outbound gateway requests",
		},
		[]string{"gateway", "outcome"},
	)

	GatewayRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airesearch_gateway_retries_total",
			Help: "Retries scheduled by outbound gateways",
		},
		[]string{"gateway"},
	)

	// Cache metrics
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airesearch_cache_requests_total",
			Help: "Cache lookups by result",
		},
		[]string{"cache", "result"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airesearch_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"route", "method", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airesearch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"route"},
	)
)
