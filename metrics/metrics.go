// Package metrics exposes Prometheus collectors for proxy calls, sessions and the
// application server.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the recorders.
const (
	OutcomeOK            = "ok"
	OutcomeFatal         = "fatal"
	OutcomeUser          = "user"
	OutcomeInformational = "informational"
	OutcomeContract      = "contract"
	OutcomeTransport     = "transport"
)

var (
	registerOnce sync.Once

	proxyCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxygen",
			Subsystem: "proxy",
			Name:      "calls_total",
			Help:      "Procedure calls made through proxies.",
		},
		[]string{"procedure", "outcome"},
	)
	proxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxygen",
			Subsystem: "proxy",
			Name:      "call_duration_seconds",
			Help:      "Procedure call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"procedure", "outcome"},
	)
	sessionConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxygen",
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Session connect attempts.",
		},
		[]string{"application", "outcome"},
	)
	serverRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxygen",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Requests handled by the application server.",
		},
		[]string{"procedure", "outcome"},
	)
	serverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxygen",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Server request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"procedure", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(proxyCalls, proxyDuration, sessionConnects, serverRequests, serverDuration)
	})
}

// Handler serves the default registry, collectors included, in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordProxyCall(procedure, outcome string, duration time.Duration) {
	RegisterMetrics()
	proxyCalls.WithLabelValues(procedure, outcome).Inc()
	proxyDuration.WithLabelValues(procedure, outcome).Observe(duration.Seconds())
}

func RecordConnect(application, outcome string) {
	RegisterMetrics()
	sessionConnects.WithLabelValues(application, outcome).Inc()
}

func RecordServerRequest(procedure, outcome string, duration time.Duration) {
	RegisterMetrics()
	serverRequests.WithLabelValues(procedure, outcome).Inc()
	serverDuration.WithLabelValues(procedure, outcome).Observe(duration.Seconds())
}
