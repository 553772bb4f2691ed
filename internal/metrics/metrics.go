// Package metrics wires the relay's Prometheus gauges (SPEC_FULL.md §6):
// registered-endpoint and active-session counts, exposed at /metrics
// alongside the plain-JSON /health endpoint spec.md requires.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the gauges the relay core updates on every registration
// and session lifecycle event. It satisfies relay.MetricsSink.
type Collector struct {
	registeredEndpoints prometheus.Gauge
	activeSessions      prometheus.Gauge
}

// New registers the relay's gauges against reg and returns a Collector.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registeredEndpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swap_registered_endpoints",
			Help: "Number of endpoints currently registered with the relay.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swap_active_sessions",
			Help: "Number of active peer-to-peer sessions tracked by the relay.",
		}),
	}
	reg.MustRegister(c.registeredEndpoints, c.activeSessions)
	return c
}

func (c *Collector) SetRegisteredEndpoints(n int) {
	c.registeredEndpoints.Set(float64(n))
}

func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}
