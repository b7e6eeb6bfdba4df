package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	LoaderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "volload",
			Name:      "loader_events_total",
			Help:      "Count of loader events processed by the reconciler.",
		},
		[]string{"type"},
	)

	CommandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "volload",
			Name:      "oracle_command_errors_total",
			Help:      "Commands that completed with a failure.",
		},
		[]string{"kind"},
	)

	CommandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "volload",
			Name:      "oracle_command_latency_seconds",
			Help:      "Time spent executing a command in a dispatcher backend.",
		},
		[]string{"kind"},
	)

	CommandsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "volload",
			Name:      "oracle_commands_in_flight",
			Help:      "Commands admitted by the scheduler and not yet completed.",
		},
	)

	CommandsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "volload",
			Name:      "oracle_commands_pending",
			Help:      "Commands queued by the scheduler waiting for a free slot.",
		},
	)

	CompletionsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "volload",
			Name:      "oracle_completions_dropped_total",
			Help:      "Completions discarded because their receiver was gone or draining.",
		},
		[]string{"reason"},
	)

	SliceWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "volload",
			Name:      "volume_slice_writes_total",
			Help:      "Slice writes into volume buffers, by outcome.",
		},
		[]string{"result"},
	)

	NotificationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "volload",
			Name:      "notifications_dropped_total",
			Help:      "Load notifications a sink could not take.",
		},
		[]string{"sink"},
	)

	ActiveLoads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "volload",
			Name:      "active_loads",
			Help:      "Number of loaders that are neither complete nor failed.",
		},
	)
)

// Register registers the volload metrics into the default registry.
func Register() {
	prometheus.MustRegister(LoaderEvents, CommandErrors, CommandLatency, CommandsInFlight,
		CommandsPending, CompletionsDropped, SliceWrites, NotificationsDropped, ActiveLoads)
}
