package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// MetricsCollector accumulates the proxy's runtime counters: connection
// lifecycle totals, byte throughput, and per-hostname routing hits.
type MetricsCollector struct {
	activeConnections atomic.Int64
	totalConnections  atomic.Int64
	bytesIngress      atomic.Int64
	bytesEgress       atomic.Int64

	routeMu   sync.Mutex
	routeHits map[string]int64
}

// NewMetricsCollector returns a zeroed MetricsCollector ready for use.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{routeHits: map[string]int64{}}
}

// IncActive records a new connection: it increments both the active gauge
// and the lifetime total.
func (m *MetricsCollector) IncActive() {
	m.activeConnections.Add(1)
	m.totalConnections.Add(1)
}

// DecActive records a connection's end, decrementing the active gauge.
func (m *MetricsCollector) DecActive() {
	m.activeConnections.Add(-1)
}

// AddIngress adds n bytes read from clients to the ingress counter.
func (m *MetricsCollector) AddIngress(n int64) {
	m.bytesIngress.Add(n)
}

// AddEgress adds n bytes written to clients to the egress counter.
func (m *MetricsCollector) AddEgress(n int64) {
	m.bytesEgress.Add(n)
}

// AddRouteHit increments the hit counter for the given virtualhost name.
func (m *MetricsCollector) AddRouteHit(host string) {
	m.routeMu.Lock()
	m.routeHits[host]++
	m.routeMu.Unlock()
}

// RouteHit is one hostname's accumulated routing hit count, as returned by
// TopRouteHits.
type RouteHit struct {
	Host string `json:"host"`
	Hits int64  `json:"hits"`
}

// TopRouteHits returns up to n hostnames with the highest hit counts,
// sorted by hit count descending then hostname ascending for ties. A
// non-positive n returns every hostname with at least one hit.
func (m *MetricsCollector) TopRouteHits(n int) []RouteHit {
	m.routeMu.Lock()
	out := make([]RouteHit, 0, len(m.routeHits))
	for host, hits := range m.routeHits {
		out = append(out, RouteHit{Host: host, Hits: hits})
	}
	m.routeMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].Host < out[j].Host
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// MetricsSnapshot is a point-in-time copy of a MetricsCollector's counters,
// safe to serialize or compare without holding any lock.
type MetricsSnapshot struct {
	ActiveConnections int64            `json:"active_connections"`
	TotalConnections  int64            `json:"total_connections_handled"`
	BytesIngress      int64            `json:"bytes_ingress"`
	BytesEgress       int64            `json:"bytes_egress"`
	RouteHits         map[string]int64 `json:"route_hits"`
}

// Snapshot returns a copy of the collector's current counters.
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.routeMu.Lock()
	rh := make(map[string]int64, len(m.routeHits))
	for k, v := range m.routeHits {
		rh[k] = v
	}
	m.routeMu.Unlock()

	return MetricsSnapshot{
		ActiveConnections: m.activeConnections.Load(),
		TotalConnections:  m.totalConnections.Load(),
		BytesIngress:      m.bytesIngress.Load(),
		BytesEgress:       m.bytesEgress.Load(),
		RouteHits:         rh,
	}
}
