package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments exported by the daemon. All
// instruments live on a private registry so tests can build isolated
// instances.
type Metrics struct {
	registry *prometheus.Registry

	// SharingSessions tracks currently registered content-sharing
	// sessions per kind.
	SharingSessions *prometheus.GaugeVec
	// SharingRejections counts rejected sharing invitations per kind and
	// reason.
	SharingRejections *prometheus.CounterVec
	// CapabilityRequests counts capability probes dispatched per channel.
	CapabilityRequests *prometheus.CounterVec
	// PollCycles counts completed capability polling passes.
	PollCycles prometheus.Counter
	// GroupChats tracks currently registered group chat handles.
	GroupChats prometheus.Gauge
	// OneToOneChats tracks currently registered one-to-one chat handles.
	OneToOneChats prometheus.Gauge
}

// New creates a Metrics instance with all instruments registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SharingSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rcsd",
			Name:      "sharing_sessions",
			Help:      "Currently registered content-sharing sessions.",
		}, []string{"kind"}),
		SharingRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcsd",
			Name:      "sharing_rejections_total",
			Help:      "Rejected content-sharing invitations.",
		}, []string{"kind", "reason"}),
		CapabilityRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcsd",
			Name:      "capability_requests_total",
			Help:      "Capability probes dispatched.",
		}, []string{"channel"}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rcsd",
			Name:      "capability_poll_cycles_total",
			Help:      "Completed capability polling passes.",
		}),
		GroupChats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rcsd",
			Name:      "group_chats",
			Help:      "Currently registered group chat handles.",
		}),
		OneToOneChats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rcsd",
			Name:      "one_to_one_chats",
			Help:      "Currently registered one-to-one chat handles.",
		}),
	}
	reg.MustRegister(
		m.SharingSessions,
		m.SharingRejections,
		m.CapabilityRequests,
		m.PollCycles,
		m.GroupChats,
		m.OneToOneChats,
	)
	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
