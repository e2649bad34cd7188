package replication

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// Records is the number of records in the set.
	Records prometheus.Gauge

	// MessagesInbound is the total number of received gossip messages,
	// labelled by message type.
	MessagesInbound *prometheus.CounterVec

	// MessagesOutbound is the total number of published gossip messages,
	// labelled by message type.
	MessagesOutbound *prometheus.CounterVec

	// OwnMessagesDropped is the total number of received messages dropped
	// since they were published by this engine.
	OwnMessagesDropped prometheus.Counter

	// Merges is the total number of merged snapshots that added at least one
	// record.
	Merges prometheus.Counter

	// SnapshotsUploaded is the total number of uploaded snapshots.
	SnapshotsUploaded prometheus.Counter

	// SnapshotsFetched is the total number of fetched snapshots.
	SnapshotsFetched prometheus.Counter

	// Errors is the total number of errors, labelled by kind.
	Errors *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Records: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "setdb",
				Subsystem: "replication",
				Name:      "records",
				Help:      "Number of records in the set",
			},
		),
		MessagesInbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "replication",
				Name:      "messages_inbound_total",
				Help:      "Total number of received gossip messages",
			},
			[]string{"type"},
		),
		MessagesOutbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "replication",
				Name:      "messages_outbound_total",
				Help:      "Total number of published gossip messages",
			},
			[]string{"type"},
		),
		OwnMessagesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "replication",
				Name:      "own_messages_dropped_total",
				Help:      "Total number of dropped messages published by this engine",
			},
		),
		Merges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "replication",
				Name:      "merges_total",
				Help:      "Total number of merged snapshots that added records",
			},
		),
		SnapshotsUploaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "replication",
				Name:      "snapshots_uploaded_total",
				Help:      "Total number of uploaded snapshots",
			},
		),
		SnapshotsFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "replication",
				Name:      "snapshots_fetched_total",
				Help:      "Total number of fetched snapshots",
			},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: "replication",
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.Records,
		m.MessagesInbound,
		m.MessagesOutbound,
		m.OwnMessagesDropped,
		m.Merges,
		m.SnapshotsUploaded,
		m.SnapshotsFetched,
		m.Errors,
	)
}
