package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/leasing/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use so constructing a
// PrometheusCollector never panics on duplicate registration by itself.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	transitions       *prometheus.CounterVec
	state             prometheus.Gauge
	leader            prometheus.Gauge
	attempts          *prometheus.CounterVec
	transitionDropped prometheus.Counter
	keepAlives        *prometheus.CounterVec
	watchResults      *prometheus.CounterVec
	opLatency         *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "leasing" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "leasing"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "state_transitions_total",
			Help:      "Total lease state transitions by source and target state.",
		}, []string{"from", "to"})

		p.state = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "state",
			Help:      "Current lease state (0=Unknown, 1=Leader, 2=Follower, 3=Lost).",
		})

		p.leader = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "is_leader",
			Help:      "1 while this replica holds leadership, 0 otherwise.",
		})

		p.attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "attempts_total",
			Help:      "Total election attempts by result (leader,follower,error).",
		}, []string{"result"})

		p.transitionDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "transitions_dropped_total",
			Help:      "Transitions not delivered to a slow channel subscriber.",
		})

		p.keepAlives = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordination",
			Name:      "keepalives_total",
			Help:      "Total lease keep-alive round trips by result (success,failure).",
		}, []string{"result"})

		p.watchResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordination",
			Name:      "watch_results_total",
			Help:      "Total follower watch resolutions by result (deleted,timeout,error,canceled).",
		}, []string{"result"})

		p.opLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "coordination",
			Name:      "operation_duration_seconds",
			Help:      "Latency of coordination service calls in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"op"})

		p.reg.MustRegister(
			p.transitions,
			p.state,
			p.leader,
			p.attempts,
			p.transitionDropped,
			p.keepAlives,
			p.watchResults,
			p.opLatency,
		)
	})
}

// RecordStateTransition counts the transition and updates the state gauges.
func (p *PrometheusCollector) RecordStateTransition(from, to types.LeaseState) {
	p.ensureRegistered()
	p.transitions.WithLabelValues(from.String(), to.String()).Inc()
	p.state.Set(float64(to))
	if to == types.StateLeader {
		p.leader.Set(1)
	} else {
		p.leader.Set(0)
	}
}

// RecordAttempt counts an election attempt.
func (p *PrometheusCollector) RecordAttempt(result string) {
	p.ensureRegistered()
	p.attempts.WithLabelValues(result).Inc()
}

// RecordTransitionDropped counts a transition missed by a channel subscriber.
func (p *PrometheusCollector) RecordTransitionDropped() {
	p.ensureRegistered()
	p.transitionDropped.Inc()
}

// RecordKeepAlive counts a keep-alive round trip.
func (p *PrometheusCollector) RecordKeepAlive(success bool) {
	p.ensureRegistered()
	result := "failure"
	if success {
		result = "success"
	}
	p.keepAlives.WithLabelValues(result).Inc()
}

// RecordWatchResult counts a watch resolution.
func (p *PrometheusCollector) RecordWatchResult(result string) {
	p.ensureRegistered()
	p.watchResults.WithLabelValues(result).Inc()
}

// RecordOperationDuration observes coordination call latency.
func (p *PrometheusCollector) RecordOperationDuration(operation string, duration float64) {
	p.ensureRegistered()
	p.opLatency.WithLabelValues(operation).Observe(duration)
}
