package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xrelay_connections_accepted_total",
			Help: "Connections returned by accept.",
		},
	)

	AcceptErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xrelay_accept_errors_total",
			Help: "Transient accept failures.",
		},
	)

	HandlersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xrelay_handlers_active",
			Help: "Handlers currently running, by dispatch strategy.",
		},
		[]string{"strategy"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xrelay_queue_depth",
			Help: "Connections waiting in the pool queue.",
		},
	)

	ProcessesSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xrelay_processes_spawned_total",
			Help: "Child processes started by the process dispatcher.",
		},
	)

	Responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrelay_responses_total",
			Help: "Responses written, by handler and status code.",
		},
		[]string{"handler", "code"},
	)

	BytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrelay_body_bytes_sent_total",
			Help: "Body bytes written to clients, by handler.",
		},
		[]string{"handler"},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsAccepted,
		AcceptErrors,
		HandlersActive,
		QueueDepth,
		ProcessesSpawned,
		Responses,
		BytesSent,
	)
}
