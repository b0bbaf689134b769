package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics exposes the pgsql Pool's occupancy and the tunnel's
// active link count as Prometheus gauges, so an operator can watch
// saturation the same way they'd watch any connection-pooling gateway.
type PoolMetrics struct {
	SessionsFree  prometheus.Gauge
	SessionsBusy  prometheus.Gauge
	WaitersQueued prometheus.Gauge
	TunnelLinks   prometheus.Gauge
}

// NewPoolMetrics registers and returns the pool/tunnel gauge set on reg.
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	pm := &PoolMetrics{
		SessionsFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgsql_sessions_free",
			Help: "Number of idle PostgreSQL sessions in the pool.",
		}),
		SessionsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgsql_sessions_busy",
			Help: "Number of PostgreSQL sessions currently attached to a query.",
		}),
		WaitersQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgsql_waiters_queued",
			Help: "Number of requests parked on the pool's waiter FIFO.",
		}),
		TunnelLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunnel_active_links",
			Help: "Number of currently open byte-pipe tunnels.",
		}),
	}

	reg.MustRegister(pm.SessionsFree, pm.SessionsBusy, pm.WaitersQueued, pm.TunnelLinks)
	return pm
}

// PoolStats is the subset of pgsql.Stats this package needs, avoiding
// an import of core/pgsql from core/observability.
type PoolStats struct {
	SessionsFree  int
	SessionsBusy  int
	WaitersQueued int
}

// Update refreshes the pool gauges from a snapshot.
func (pm *PoolMetrics) Update(s PoolStats) {
	pm.SessionsFree.Set(float64(s.SessionsFree))
	pm.SessionsBusy.Set(float64(s.SessionsBusy))
	pm.WaitersQueued.Set(float64(s.WaitersQueued))
}

// IncTunnelLinks / DecTunnelLinks track the tunnel's active link count.
func (pm *PoolMetrics) IncTunnelLinks() { pm.TunnelLinks.Inc() }
func (pm *PoolMetrics) DecTunnelLinks() { pm.TunnelLinks.Dec() }
