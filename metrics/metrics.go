// Package metrics holds the Prometheus collectors shared by cloakfetch
// components. Collectors register with the default registry on init.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cloakfetch"

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Fetch calls by outcome: ok or the error kind.",
	}, []string{"outcome"})

	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Wall time of fetch calls, including aborted ones.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions currently registered.",
	})

	TransportCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transport_cache_entries",
		Help:      "Live transports in the engine cache.",
	})

	WebSocketsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websockets_open",
		Help:      "Open WebSocket connections.",
	})

	dnsLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_cache_lookups_total",
		Help:      "DNS cache lookups by result.",
	}, []string{"result"})
)

// ObserveRequest records one finished fetch call. An empty outcome counts
// as success.
func ObserveRequest(outcome string, elapsed time.Duration) {
	if outcome == "" {
		outcome = "ok"
	}
	RequestsTotal.WithLabelValues(outcome).Inc()
	RequestDuration.Observe(elapsed.Seconds())
}

// DNSObserver counts DNS cache hits and misses.
type DNSObserver struct{}

func (DNSObserver) Hit()  { dnsLookups.WithLabelValues("hit").Inc() }
func (DNSObserver) Miss() { dnsLookups.WithLabelValues("miss").Inc() }

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
