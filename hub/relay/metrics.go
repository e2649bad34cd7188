package relay

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// Connections is the number of connected channels.
	Connections prometheus.Gauge

	// Subscriptions is the number of topic subscriptions across all
	// connections.
	Subscriptions prometheus.Gauge

	// MessagesPublished is the total number of messages published.
	MessagesPublished prometheus.Counter

	// MessagesDelivered is the total number of messages queued for delivery
	// to subscribers.
	MessagesDelivered prometheus.Counter

	// SlowConsumers is the total number of connections closed since their
	// send queue was full.
	SlowConsumers prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "setdb",
				Subsystem: "relay",
				Name:      "connections",
				Help:      "Number of connected channels",
			},
		),
		Subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "setdb",
				Subsystem: "relay",
				Name:      "subscriptions",
				Help:      "Number of topic subscriptions",
			},
		),
		MessagesPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "relay",
				Name:      "messages_published_total",
				Help:      "Total number of published messages",
			},
		),
		MessagesDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "relay",
				Name:      "messages_delivered_total",
				Help:      "Total number of messages delivered to subscribers",
			},
		),
		SlowConsumers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "relay",
				Name:      "slow_consumers_total",
				Help:      "Total number of connections closed for falling behind",
			},
		),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.Connections,
		m.Subscriptions,
		m.MessagesPublished,
		m.MessagesDelivered,
		m.SlowConsumers,
	)
}
