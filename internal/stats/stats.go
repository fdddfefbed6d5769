package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	Count(name string)
}

// Metric names used across the relay. Incr/Decr address the gauges,
// Count addresses the counters.
const (
	ActiveSessions      = "active_sessions"
	ActiveSubscriptions = "active_subscriptions"
	MessagesPublished   = "messages_published"
	MessagesDelivered   = "messages_delivered"
	PublishRetries      = "publish_retries"
	PresenceTransitions = "presence_transitions"
	AuthFailures        = "auth_failures"
)

// PromStats exposes the relay's gauges and counters through a dedicated
// Prometheus registry and a /metrics handler.
type PromStats struct {
	gauges   map[string]prometheus.Gauge
	counters map[string]prometheus.Counter
}

func NewPromStats(mux *http.ServeMux) *PromStats {
	registry := prometheus.NewRegistry()

	ps := &PromStats{
		gauges:   make(map[string]prometheus.Gauge),
		counters: make(map[string]prometheus.Counter),
	}

	for _, name := range []string{ActiveSessions, ActiveSubscriptions} {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat_relay",
			Name:      name,
		})
		registry.MustRegister(g)
		ps.gauges[name] = g
	}

	for _, name := range []string{MessagesPublished, MessagesDelivered, PublishRetries, PresenceTransitions, AuthFailures} {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat_relay",
			Name:      name + "_total",
		})
		registry.MustRegister(c)
		ps.counters[name] = c
	}

	if mux != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return ps
}

func (ps *PromStats) Incr(name string) {
	if g, ok := ps.gauges[name]; ok {
		g.Inc()
	}
}

func (ps *PromStats) Decr(name string) {
	if g, ok := ps.gauges[name]; ok {
		g.Dec()
	}
}

func (ps *PromStats) Count(name string) {
	if c, ok := ps.counters[name]; ok {
		c.Inc()
	}
}
