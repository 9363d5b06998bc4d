package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

type PipelineMetrics struct {
	service  string
	registry *prometheus.Registry

	pollTotal     *prometheus.CounterVec
	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	recordsTotal  *prometheus.CounterVec
	tokensTotal   prometheus.Counter
	lastRunTokens prometheus.Gauge

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	pollTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "insights",
			Subsystem:   "monitor",
			Name:        "polls_total",
			Help:        "Total job status polls by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "insights",
			Subsystem:   "pipeline",
			Name:        "stage_total",
			Help:        "Total pipeline stage executions by status.",
			ConstLabels: constLabels,
		},
		[]string{"stage", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "insights",
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Pipeline stage duration in seconds.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 30, 60, 300, 600, 1800, 3600},
			ConstLabels: constLabels,
		},
		[]string{"stage"},
	)
	recordsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "insights",
			Subsystem:   "pipeline",
			Name:        "records_total",
			Help:        "Records seen per run by kind.",
			ConstLabels: constLabels,
		},
		[]string{"kind"},
	)
	tokensTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "insights",
			Subsystem:   "llm",
			Name:        "tokens_total",
			Help:        "Total tokens reported by batch results.",
			ConstLabels: constLabels,
		},
	)
	lastRunTokens := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "insights",
			Subsystem:   "llm",
			Name:        "last_run_tokens",
			Help:        "Tokens reported by the most recent run.",
			ConstLabels: constLabels,
		},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "insights",
			Subsystem:   "batch_client",
			Name:        "requests_total",
			Help:        "Total batch provider requests.",
			ConstLabels: constLabels,
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "insights",
			Subsystem:   "batch_client",
			Name:        "request_duration_seconds",
			Help:        "Batch provider request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "insights",
			Subsystem:   "batch_client",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight batch provider requests.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(
		pollTotal,
		stageTotal,
		stageDuration,
		recordsTotal,
		tokensTotal,
		lastRunTokens,
		requestTotal,
		requestDuration,
		requestInFlight,
	)

	return &PipelineMetrics{
		service:         service,
		registry:        registry,
		pollTotal:       pollTotal,
		stageTotal:      stageTotal,
		stageDuration:   stageDuration,
		recordsTotal:    recordsTotal,
		tokensTotal:     tokensTotal,
		lastRunTokens:   lastRunTokens,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) ObservePoll(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.pollTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveStage(stage string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *PipelineMetrics) ObserveSummary(summary domain.RunSummary) {
	counts := map[string]int{
		"extracted":          summary.Extracted,
		"encode_skipped":     summary.EncodeSkipped,
		"submitted":          summary.Submitted,
		"result_lines":       summary.ResultLines,
		"parse_errors":       summary.ParseErrors,
		"failed_items":       summary.FailedItems,
		"missing_results":    summary.MissingResults,
		"unknown_correlated": summary.UnknownCorrelated,
	}
	for kind, n := range counts {
		if n > 0 {
			m.recordsTotal.WithLabelValues(kind).Add(float64(n))
		}
	}
	if summary.TotalTokens > 0 {
		m.tokensTotal.Add(float64(summary.TotalTokens))
	}
	m.lastRunTokens.Set(float64(summary.TotalTokens))
}
