package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// DispatchCounter counts group dispatches by event kind and outcome
	// ("delivered" or "suppressed").
	DispatchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_dispatch_total",
		Help: "Total number of sync group dispatches",
	}, []string{"kind", "outcome"})
	// ParticipantGauge reports the number of registered participants across groups.
	ParticipantGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_participants",
		Help: "Current number of registered sync participants",
	})
	// BufferingGauge reports the number of groups in the buffering state.
	BufferingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_buffering_groups",
		Help: "Current number of sync groups waiting on a buffering participant",
	})
	// BufferingTransitions counts buffering edges ("start" or "end").
	BufferingTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_buffering_transitions_total",
		Help: "Total number of idle/buffering transitions",
	}, []string{"edge"})
	// RelayCounter counts relayed events by direction ("in", "out", "dropped").
	RelayCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_relay_messages_total",
		Help: "Total number of events relayed between nodes",
	}, []string{"direction"})
	// WatcherGauge reports the number of active watch streams.
	WatcherGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_watchers",
		Help: "Current number of active watchers",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers lockstep metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(DispatchCounter, ParticipantGauge, BufferingGauge, BufferingTransitions, RelayCounter, WatcherGauge)
}
