package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink translates pipeline events into Prometheus collectors.
// The correlation id is never used as a Prometheus label.
type PrometheusSink struct {
	attempts    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	extractions *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rejections  prometheus.Counter
	decisions   *prometheus.CounterVec
	state       prometheus.Gauge
	cache       *prometheus.CounterVec
	other       *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	f := promauto.With(reg)
	return &PrometheusSink{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casefinder_search_attempts_total",
			Help: "Navigation attempts against the target by outcome",
		}, []string{"outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casefinder_search_retries_total",
			Help: "Retries scheduled by error kind",
		}, []string{"kind"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casefinder_searches_total",
			Help: "Completed searches by terminal outcome",
		}, []string{"outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casefinder_search_duration_seconds",
			Help:    "End-to-end search latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 18), // 1ms to ~2m
		}, []string{"outcome"}),
		extractions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casefinder_extractions_total",
			Help: "Extraction strategy results",
		}, []string{"strategy", "outcome"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casefinder_circuit_transitions_total",
			Help: "Circuit breaker state transitions",
		}, []string{"event"}),
		rejections: f.NewCounter(prometheus.CounterOpts{
			Name: "casefinder_circuit_rejections_total",
			Help: "Calls rejected while the circuit was open",
		}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casefinder_circuit_decisions_total",
			Help: "Admission decisions by the circuit breaker",
		}, []string{"decision", "trial"}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Name: "casefinder_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casefinder_cache_lookups_total",
			Help: "Result cache lookups",
		}, []string{"result"}),
		other: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casefinder_events_total",
			Help: "Events without a dedicated collector",
		}, []string{"name"}),
	}
}

func (s *PrometheusSink) Emit(e Event) {
	l := e.Labels
	switch e.Name {
	case EventSearchAttempt:
		s.attempts.WithLabelValues(l["outcome"]).Inc()
	case EventSearchRetry:
		s.retries.WithLabelValues(l["kind"]).Inc()
	case EventSearchOutcome:
		s.outcomes.WithLabelValues(l["outcome"]).Inc()
	case EventSearchDuration:
		s.duration.WithLabelValues(l["outcome"]).Observe(e.Value)
	case EventExtraction:
		s.extractions.WithLabelValues(l["strategy"], l["outcome"]).Inc()
	case EventCircuitOpened, EventCircuitHalfOpen, EventCircuitClosed:
		s.transitions.WithLabelValues(e.Name).Inc()
	case EventCircuitState:
		s.state.Set(e.Value)
	case EventCircuitRejected:
		s.rejections.Inc()
	case EventCircuitDecision:
		s.decisions.WithLabelValues(l["decision"], l["trial"]).Inc()
	case EventCacheLookup:
		s.cache.WithLabelValues(l["result"]).Inc()
	default:
		s.other.WithLabelValues(e.Name).Inc()
	}
}
