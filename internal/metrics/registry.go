package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// CacheClasses are the key classes the hit ratio is computed over
var CacheClasses = []string{"gas", "balances", "transactions", "venues", "supply", "prices", "pool_transactions"}

// Registry holds all Prometheus metrics of the engine on a private registry.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	StepDuration *prometheus.HistogramVec

	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	GatewayCalls    *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec
	GatewayRetries  *prometheus.CounterVec

	Evaluations       *prometheus.CounterVec
	ActiveEvaluations prometheus.Gauge
	Scores            prometheus.Histogram
	AnalyzerFailures  *prometheus.CounterVec
}

// New creates the registry with Go runtime and process collectors attached
func New() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eligibility_step_duration_seconds",
				Help:    "Duration of each analyzer step in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"step", "result"},
		),

		CacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eligibility_cache_hit_ratio",
			Help: "Current cache hit ratio (0.0 to 1.0)",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_cache_hits_total",
			Help: "Total number of cache hits by key class",
		}, []string{"class"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_cache_misses_total",
			Help: "Total number of cache misses by key class",
		}, []string{"class"}),

		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_gateway_calls_total",
			Help: "Gateway calls by chain, operation and outcome",
		}, []string{"chain_id", "op", "outcome"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eligibility_gateway_call_duration_seconds",
			Help:    "Gateway call duration including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain_id", "op"}),
		GatewayRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_gateway_retries_total",
			Help: "Gateway retry attempts by chain and operation",
		}, []string{"chain_id", "op"}),

		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_evaluations_total",
			Help: "Completed evaluations by result (success, partial, total_failure)",
		}, []string{"result"}),
		ActiveEvaluations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eligibility_active_evaluations",
			Help: "Number of evaluations in progress",
		}),
		Scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eligibility_score",
			Help:    "Distribution of final eligibility scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		AnalyzerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_analyzer_failures_total",
			Help: "Analyzer failures degraded to neutral values",
		}, []string{"chain_id", "analyzer"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StepDuration,
		m.CacheHitRatio, m.CacheHits, m.CacheMisses,
		m.GatewayCalls, m.GatewayDuration, m.GatewayRetries,
		m.Evaluations, m.ActiveEvaluations, m.Scores, m.AnalyzerFailures,
	)

	return m
}

// Gatherer exposes the underlying registry, mainly for tests
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format
func (m *Registry) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// StepTimer tracks the duration of one analyzer step
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a step
func (m *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	if st.metrics != nil {
		st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	}

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("step completed")
}

// RecordCacheHit records a cache hit for a key class
func (m *Registry) RecordCacheHit(class string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(class).Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for a key class
func (m *Registry) RecordCacheMiss(class string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(class).Inc()
	m.updateCacheHitRatio()
}

// RecordGatewayCall records the outcome of a gateway call
func (m *Registry) RecordGatewayCall(chainID int64, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	chain := strconv.FormatInt(chainID, 10)
	m.GatewayCalls.WithLabelValues(chain, op, outcome).Inc()
	m.GatewayDuration.WithLabelValues(chain, op).Observe(elapsed.Seconds())
}

// RecordGatewayRetry counts one backoff before a retry
func (m *Registry) RecordGatewayRetry(chainID int64, op string) {
	if m == nil {
		return
	}
	m.GatewayRetries.WithLabelValues(strconv.FormatInt(chainID, 10), op).Inc()
}

// RecordAnalyzerFailure counts an analyzer that degraded to its neutral value
func (m *Registry) RecordAnalyzerFailure(chainID int64, analyzer string) {
	if m == nil {
		return
	}
	m.AnalyzerFailures.WithLabelValues(strconv.FormatInt(chainID, 10), analyzer).Inc()
}

// EvaluationStarted marks an evaluation in flight
func (m *Registry) EvaluationStarted() {
	if m == nil {
		return
	}
	m.ActiveEvaluations.Inc()
}

// EvaluationFinished records the result of an evaluation. score is ignored on total failure.
func (m *Registry) EvaluationFinished(result string, score float64) {
	if m == nil {
		return
	}
	m.ActiveEvaluations.Dec()
	m.Evaluations.WithLabelValues(result).Inc()
	if result != "total_failure" {
		m.Scores.Observe(score)
	}
}

// CounterValue reads the current value of one counter series
func CounterValue(vec *prometheus.CounterVec, labels ...string) float64 {
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	var metric io_prometheus_client.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// updateCacheHitRatio sums hits and misses across the known key classes
func (m *Registry) updateCacheHitRatio() {
	totalHits, totalMisses := 0.0, 0.0
	for _, class := range CacheClasses {
		totalHits += CounterValue(m.CacheHits, class)
		totalMisses += CounterValue(m.CacheMisses, class)
	}

	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}
