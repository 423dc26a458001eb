package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Collector with Prometheus metrics on a private
// registry.
type Prometheus struct {
	stateTransitions *prometheus.CounterVec
	restarts         *prometheus.CounterVec
	launchDuration   *prometheus.HistogramVec
	poolEntries      *prometheus.GaugeVec
	discovery        prometheus.Histogram
	discovered       prometheus.Gauge
	resolveFailures  *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector whose metric names start with namespace.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "forage_lab"
	}

	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_state_transitions_total",
			Help:      "Total number of session server state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	p.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_restarts_total",
			Help:      "Total number of server relaunches after an unexpected exit",
		},
		[]string{"engine"},
	)

	// Launches range from seconds (cached image) to many minutes (pull).
	p.launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "server_launch_duration_seconds",
			Help:      "Duration of server start operations",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"engine", "status"},
	)

	p.poolEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_servers",
			Help:      "Number of servers in the pool",
		},
		[]string{"state"},
	)

	p.discovery = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_discovery_duration_seconds",
			Help:      "Duration of environment discovery builds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	p.discovered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_discovered_environments",
			Help:      "Number of compatible environments found by the last discovery",
		},
	)

	p.resolveFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_resolve_failures_total",
			Help:      "Total number of candidates that failed to resolve",
		},
		[]string{"reason"},
	)

	p.registry.MustRegister(
		p.stateTransitions,
		p.restarts,
		p.launchDuration,
		p.poolEntries,
		p.discovery,
		p.discovered,
		p.resolveFailures,
	)

	return p
}

func (p *Prometheus) StateTransition(from, to string) {
	p.stateTransitions.WithLabelValues(from, to).Inc()
}

func (p *Prometheus) ServerRestart(engine string) {
	p.restarts.WithLabelValues(engine).Inc()
}

func (p *Prometheus) LaunchDuration(engine string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.launchDuration.WithLabelValues(engine, status).Observe(d.Seconds())
}

func (p *Prometheus) PoolSize(total, idle int) {
	p.poolEntries.WithLabelValues("idle").Set(float64(idle))
	p.poolEntries.WithLabelValues("used").Set(float64(total - idle))
}

func (p *Prometheus) DiscoveryDuration(d time.Duration, found int) {
	p.discovery.Observe(d.Seconds())
	p.discovered.Set(float64(found))
}

func (p *Prometheus) ResolveFailure(reason string) {
	p.resolveFailures.WithLabelValues(reason).Inc()
}

// Registry returns the underlying Prometheus registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
