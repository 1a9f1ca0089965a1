package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-run prometheus collectors fed by detector listeners.
// Each run owns its registry so repeated runs in one process do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	triggers         *prometheus.CounterVec
	aggregations     *prometheus.CounterVec
	flow             *prometheus.GaugeVec
	occupied         *prometheus.GaugeVec
	occupancyChanges *prometheus.CounterVec
	callbackFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanedetect",
			Name:      "detector_triggers_total",
			Help:      "Cross-section detector triggers by detector and reference point.",
		}, []string{"detector", "reference"}),
		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanedetect",
			Name:      "loop_aggregations_total",
			Help:      "Aggregation ticks completed per loop detector.",
		}, []string{"detector"}),
		flow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lanedetect",
			Name:      "loop_flow_veh_per_hour",
			Help:      "Flow reported by the last aggregation tick.",
		}, []string{"detector"}),
		occupied: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lanedetect",
			Name:      "area_occupied",
			Help:      "1 while an area occupancy detector is occupied.",
		}, []string{"detector"}),
		occupancyChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanedetect",
			Name:      "area_transitions_total",
			Help:      "Occupancy transitions per area detector and direction.",
		}, []string{"detector", "direction"}),
		callbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lanedetect",
			Name:      "scheduler_callback_failures_total",
			Help:      "Scheduled callbacks that returned an error or panicked.",
		}),
	}
	m.Registry.MustRegister(m.triggers, m.aggregations, m.flow, m.occupied, m.occupancyChanges, m.callbackFailures)
	return m
}

// ObserveTrigger counts one detector trigger.
func (m *Metrics) ObserveTrigger(detectorID, reference string) {
	m.triggers.WithLabelValues(detectorID, reference).Inc()
}

// ObserveAggregate records a completed aggregation tick.
func (m *Metrics) ObserveAggregate(detectorID string, flowVehPerHour float64) {
	m.aggregations.WithLabelValues(detectorID).Inc()
	m.flow.WithLabelValues(detectorID).Set(flowVehPerHour)
}

// ObserveOccupancy records an area detector transition.
func (m *Metrics) ObserveOccupancy(detectorID string, occupied bool) {
	direction := "exit"
	value := 0.0
	if occupied {
		direction = "entry"
		value = 1
	}
	m.occupied.WithLabelValues(detectorID).Set(value)
	m.occupancyChanges.WithLabelValues(detectorID, direction).Inc()
}

// ObserveCallbackFailure counts one isolated scheduler callback failure.
func (m *Metrics) ObserveCallbackFailure() {
	m.callbackFailures.Inc()
}
