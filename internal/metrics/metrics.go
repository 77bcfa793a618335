package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Summary sources.
const (
	SummaryPrimary  = "primary"
	SummaryFallback = "fallback"
	SummaryNone     = "none"
)

var (
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpbot",
			Name:      "health_probes_total",
			Help:      "Backend health probes, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	discoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpbot",
			Name:      "discoveries_total",
			Help:      "Auto-discovery passes, partitioned by whether a base was adopted.",
		},
		[]string{"outcome"},
	)

	backendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpbot",
			Name:      "backend_calls_total",
			Help:      "Registry backend calls by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	backendCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "helpbot",
			Name:      "backend_call_seconds",
			Help:      "Registry backend call latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"endpoint"},
	)

	searchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpbot",
			Name:      "searches_total",
			Help:      "Searches run by the dialogue, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	summariesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpbot",
			Name:      "summaries_total",
			Help:      "Result summaries by source (primary, fallback, none).",
		},
		[]string{"source"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "helpbot",
			Name:      "active_sessions",
			Help:      "Conversations currently held by the server.",
		},
	)
)

// Register attaches helpbot collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		probesTotal,
		discoveriesTotal,
		backendCallsTotal,
		backendCallSeconds,
		searchesTotal,
		summariesTotal,
		activeSessions,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeError
}

func ObserveProbe(ok bool) {
	probesTotal.WithLabelValues(outcome(ok)).Inc()
}

func ObserveDiscovery(adopted bool) {
	discoveriesTotal.WithLabelValues(outcome(adopted)).Inc()
}

// ObserveBackendCall records one call to a backend path.
func ObserveBackendCall(endpoint string, duration time.Duration, ok bool) {
	backendCallsTotal.WithLabelValues(endpoint, outcome(ok)).Inc()
	if duration < 0 {
		duration = 0
	}
	backendCallSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func ObserveSearch(ok bool) {
	searchesTotal.WithLabelValues(outcome(ok)).Inc()
}

func ObserveSummary(source string) {
	switch source {
	case SummaryPrimary, SummaryFallback:
	default:
		source = SummaryNone
	}
	summariesTotal.WithLabelValues(source).Inc()
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}
