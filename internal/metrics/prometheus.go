package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Engine metrics
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram

	// Lifetime resolver metrics
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	cacheEntries     prometheus.Gauge

	// Monitor metrics
	monitorEvaluationsTotal *prometheus.CounterVec
	monitorRetriesTotal     *prometheus.CounterVec

	// Event bus metrics
	busBufferSize       prometheus.Gauge
	busBufferCapacity   prometheus.Gauge
	busBufferSaturation prometheus.Gauge
	busEmitErrorsTotal  prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register keep working locally but are not scraped.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltvd_engine_evaluations_total",
			Help: "Total number of eligibility evaluations by outcome.",
		}, []string{"outcome"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ltvd_engine_evaluation_duration_seconds",
			Help:    "Duration of eligibility evaluations in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltvd_lifetime_cache_hits_total",
			Help: "Total number of lifetime-value cache hits.",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltvd_lifetime_cache_misses_total",
			Help: "Total number of lifetime-value cache misses.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ltvd_lifetime_cache_entries",
			Help: "Current number of lifetime-value cache entries.",
		}),
		monitorEvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltvd_monitor_evaluations_total",
			Help: "Total number of cart monitor evaluations by outcome.",
		}, []string{"outcome"}),
		monitorRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltvd_monitor_retry_attempts_total",
			Help: "Total number of monitor retry attempts by failure class.",
		}, []string{"status_class"}),
		busBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ltvd_eventbus_buffer_size",
			Help: "Current number of buffered cart events.",
		}),
		busBufferCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ltvd_eventbus_buffer_capacity",
			Help: "Capacity of the cart event buffer.",
		}),
		busBufferSaturation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ltvd_eventbus_buffer_saturation",
			Help: "Cart event buffer saturation ratio (0 to 1).",
		}),
		busEmitErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltvd_eventbus_emit_errors_total",
			Help: "Total number of cart events dropped at emit.",
		}),
	}

	s.register(reg, s.evaluationsTotal, "ltvd_engine_evaluations_total")
	s.register(reg, s.evaluationDuration, "ltvd_engine_evaluation_duration_seconds")
	s.register(reg, s.cacheHitsTotal, "ltvd_lifetime_cache_hits_total")
	s.register(reg, s.cacheMissesTotal, "ltvd_lifetime_cache_misses_total")
	s.register(reg, s.cacheEntries, "ltvd_lifetime_cache_entries")
	s.register(reg, s.monitorEvaluationsTotal, "ltvd_monitor_evaluations_total")
	s.register(reg, s.monitorRetriesTotal, "ltvd_monitor_retry_attempts_total")
	s.register(reg, s.busBufferSize, "ltvd_eventbus_buffer_size")
	s.register(reg, s.busBufferCapacity, "ltvd_eventbus_buffer_capacity")
	s.register(reg, s.busBufferSaturation, "ltvd_eventbus_buffer_saturation")
	s.register(reg, s.busEmitErrorsTotal, "ltvd_eventbus_emit_errors_total")

	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) EvaluationCompleted(outcome string, duration time.Duration) {
	s.evaluationsTotal.WithLabelValues(outcome).Inc()
	s.evaluationDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) LifetimeCacheHit()  { s.cacheHitsTotal.Inc() }
func (s *PrometheusSink) LifetimeCacheMiss() { s.cacheMissesTotal.Inc() }

func (s *PrometheusSink) LifetimeCacheSize(entries int) {
	s.cacheEntries.Set(float64(entries))
}

func (s *PrometheusSink) MonitorEvaluation(outcome string) {
	s.monitorEvaluationsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) MonitorRetryAttempt(statusClass string) {
	s.monitorRetriesTotal.WithLabelValues(statusClass).Inc()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.busBufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.busBufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.busBufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.busEmitErrorsTotal.Inc()
}
