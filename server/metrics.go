package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the server's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	ActiveConns     prometheus.Gauge
	Admitted        prometheus.Counter
	Rejected        prometheus.Counter
	ForceClosed     prometheus.Counter
	HandlerFailures prometheus.Counter
	Leaked          prometheus.Counter
}

// NewMetrics builds the collectors under namespace and registers them
// with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		ActiveConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Connections currently registered with the server.",
		}),
		Admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "admitted_connections_total",
			Help:      "Connections admitted and dispatched to a handler.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "rejected_connections_total",
			Help:      "Connections closed because the server was at capacity.",
		}),
		ForceClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "force_closed_connections_total",
			Help:      "Connections the handler returned without closing.",
		}),
		HandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "handler_failures_total",
			Help:      "Handlers that returned an error or panicked.",
		}),
		Leaked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "outstanding_connections_total",
			Help:      "Connections reported active past the leak threshold.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ActiveConns, m.Admitted, m.Rejected, m.ForceClosed, m.HandlerFailures, m.Leaked)
	}

	return m
}

func (m *Metrics) admitted() {
	if m == nil {
		return
	}
	m.Admitted.Inc()
	m.ActiveConns.Inc()
}

func (m *Metrics) released() {
	if m == nil {
		return
	}
	m.ActiveConns.Dec()
}

func (m *Metrics) rejected() {
	if m != nil {
		m.Rejected.Inc()
	}
}

func (m *Metrics) forceClosed() {
	if m != nil {
		m.ForceClosed.Inc()
	}
}

func (m *Metrics) handlerFailed() {
	if m != nil {
		m.HandlerFailures.Inc()
	}
}

func (m *Metrics) leaked() {
	if m != nil {
		m.Leaked.Inc()
	}
}
