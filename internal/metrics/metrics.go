package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusOK    = "ok"
	StatusMiss  = "miss"
	StatusError = "error"
)

// Metrics holds the Prometheus collectors of a server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	commandsTotal     *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	items             prometheus.Gauge
	storedBytes       prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ramcache_commands_total",
				Help: "Total number of dispatched commands",
			},
			[]string{"verb", "status"},
		),
		protocolErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ramcache_protocol_errors_total",
				Help: "Total number of rejected command frames",
			},
			[]string{"reason"},
		),
		connectionsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ramcache_connections_total",
				Help: "Total number of accepted connections",
			},
		),
		connectionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ramcache_connections_active",
				Help: "Number of open connections",
			},
		),
		items: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ramcache_items",
				Help: "Number of stored items",
			},
		),
		storedBytes: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ramcache_stored_bytes",
				Help: "Logical size of stored keys and values",
			},
		),
	}
}

func (m *Metrics) Command(verb, status string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(verb, status).Inc()
}

func (m *Metrics) ProtocolError(reason string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// StoreSize records the current item count and stored bytes.
func (m *Metrics) StoreSize(items int, bytes int64) {
	if m == nil {
		return
	}
	m.items.Set(float64(items))
	m.storedBytes.Set(float64(bytes))
}
