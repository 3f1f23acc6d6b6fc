// Package obs holds the Prometheus metrics shared by every endpoint and session.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections    = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "netbridge_active_connections", Help: "Open WebSocket connections"}, []string{"role"})
	FramesTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "netbridge_frames_total", Help: "WebSocket frames by direction"}, []string{"direction"})
	HTTPRequestsTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "netbridge_http_requests_total", Help: "Plain HTTP requests by outcome"}, []string{"outcome"})
	HostEventsTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "netbridge_host_events_total", Help: "Events delivered into the host context"}, []string{"event"})
	HostEventsDropped    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "netbridge_host_events_dropped_total", Help: "Events dropped at the host boundary"}, []string{"reason"})
	HostDeliverySeconds  = promauto.NewHistogram(prometheus.HistogramOpts{Name: "netbridge_host_delivery_seconds", Help: "Time spent inside the host invocation", Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16)})
	WorkerPanicsTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "netbridge_worker_panics_total", Help: "Panics recovered at the poll loop boundary"}, []string{"worker"})
	DiscoveryRecoveries  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "netbridge_discovery_recoveries_total", Help: "Discovery client recreations and renames"}, []string{"kind"})
	DiscoveryServices    = promauto.NewGauge(prometheus.GaugeOpts{Name: "netbridge_discovery_resolved_services", Help: "Services currently resolved by browsers"})
	DiscoveryResolveFail = promauto.NewCounter(prometheus.CounterOpts{Name: "netbridge_discovery_resolve_failures_total", Help: "Resolves that failed or timed out"})
)

// Handler exposes the default registry for mounting on a listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
