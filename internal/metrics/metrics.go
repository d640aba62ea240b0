package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	TransportConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_transport_connects_total",
		Help: "Successful broker connections, including reconnects.",
	})
	TransportReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_transport_reconnect_attempts_total",
		Help: "Reconnection attempts after unexpected connection loss.",
	})
	TransportAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_transport_auth_failures_total",
		Help: "Fatal authentication failures reported by the broker.",
	})
	PublishedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_published_messages_total",
		Help: "Messages published to the broker.",
	})
	FailedPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_failed_publishes_total",
		Help: "Publish calls that failed or were rejected while disconnected.",
	})
	ResolverOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_room_resolutions_total",
		Help: "Room resolution outcomes by result.",
	}, []string{"result"})
	AcceptedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_accepted_requests_total",
		Help: "Companion requests accepted through the bridge.",
	})
)
