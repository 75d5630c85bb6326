// Package metrics exposes Prometheus counters/gauges for the live session
// registry and admin surface, plus the plaintext health check.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every metric this server exports. A single instance is
// created at startup and shared by httpapi, the session registry's forward
// hooks, and main's gauge sampler.
type Registry struct {
	reg *prometheus.Registry

	AttachedSessions   prometheus.Gauge
	PendingHandshakes  prometheus.Gauge
	AuthenticatedUsers prometheus.Gauge
	PingsForwarded     prometheus.Counter
	PingsDropped       prometheus.Counter
	AdminInjections    prometheus.Counter
	Bans               prometheus.Counter
	Unbans             prometheus.Counter
	HandshakeFailures  *prometheus.CounterVec
}

// NewRegistry builds and registers every metric against a fresh prometheus
// registry scoped to this process, matching the teacher's habit of keeping
// one metrics surface per server binary rather than reaching for the global
// default (which would panic on double-registration in tests).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		AttachedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosmowire",
			Name:      "attached_sessions",
			Help:      "Number of WebSocket connections currently attached to the session registry.",
		}),
		PendingHandshakes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosmowire",
			Name:      "pending_handshakes",
			Help:      "Number of /id handshakes awaiting /verify.",
		}),
		AuthenticatedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosmowire",
			Name:      "authenticated_users",
			Help:      "Number of distinct players with an active token.",
		}),
		PingsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmowire",
			Name:      "pings_forwarded_total",
			Help:      "Total pings delivered to a subscriber's broadcast channel.",
		}),
		PingsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmowire",
			Name:      "pings_dropped_total",
			Help:      "Total pings dropped because a subscriber's broadcast channel was full.",
		}),
		AdminInjections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmowire",
			Name:      "admin_injections_total",
			Help:      "Total raw frames injected via the admin bridge.",
		}),
		Bans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmowire",
			Name:      "bans_total",
			Help:      "Total ban actions applied.",
		}),
		Unbans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmowire",
			Name:      "unbans_total",
			Help:      "Total unban actions applied.",
		}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosmowire",
			Name:      "handshake_failures_total",
			Help:      "Total /verify failures by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		r.AttachedSessions, r.PendingHandshakes, r.AuthenticatedUsers,
		r.PingsForwarded, r.PingsDropped, r.AdminInjections,
		r.Bans, r.Unbans, r.HandshakeFailures,
	)
	return r
}

// Handler returns the promhttp handler for the /metrics endpoint, serving
// only metrics registered on this Registry's own collector.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Health is the plaintext /health handler.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
