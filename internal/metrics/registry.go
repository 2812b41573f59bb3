// Package metrics provides Prometheus metrics for the HVAC plant
// simulator and control panel.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PlantMetrics holds the plant simulator's Prometheus metrics.
type PlantMetrics struct {
	// Control loop
	ControlTicks  *prometheus.CounterVec
	ControlErrors *prometheus.CounterVec

	// Mirror loop
	MirrorTicks  *prometheus.CounterVec
	MirrorErrors *prometheus.CounterVec

	// Simulated state, for dashboards
	Temperature *prometheus.GaugeVec
	CoilState   *prometheus.GaugeVec

	// Modbus endpoint
	EndpointRequests   *prometheus.CounterVec
	EndpointExceptions *prometheus.CounterVec
}

// NewPlantMetrics registers the plant metric set with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a private
// registry so repeated construction does not collide.
func NewPlantMetrics(reg prometheus.Registerer) *PlantMetrics {
	factory := promauto.With(reg)

	return &PlantMetrics{
		ControlTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "control",
			Name:      "ticks_total",
			Help:      "Control loop ticks per unit",
		}, []string{"unit_id"}),
		ControlErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "control",
			Name:      "errors_total",
			Help:      "Control ticks aborted by a register fault",
		}, []string{"unit_id"}),
		MirrorTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "mirror",
			Name:      "ticks_total",
			Help:      "Mirror loop ticks per unit",
		}, []string{"unit_id"}),
		MirrorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "mirror",
			Name:      "errors_total",
			Help:      "Mirror ticks aborted by a register fault",
		}, []string{"unit_id"}),
		Temperature: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hvac",
			Subsystem: "plant",
			Name:      "temperature_celsius",
			Help:      "Simulated temperature per AC",
		}, []string{"unit_id", "ac"}),
		CoilState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hvac",
			Subsystem: "plant",
			Name:      "coil_state",
			Help:      "Commanded actuator state per AC (1 on, 0 off)",
		}, []string{"unit_id", "ac"}),
		EndpointRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "endpoint",
			Name:      "requests_total",
			Help:      "Modbus requests served, by function",
		}, []string{"function"}),
		EndpointExceptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "endpoint",
			Name:      "exceptions_total",
			Help:      "Modbus exception responses returned, by function",
		}, []string{"function"}),
	}
}

// RecordControlTick records one control tick for a unit.
func (m *PlantMetrics) RecordControlTick(unitID uint8, err error) {
	label := unitLabel(unitID)
	m.ControlTicks.WithLabelValues(label).Inc()
	if err != nil {
		m.ControlErrors.WithLabelValues(label).Inc()
	}
}

// RecordMirrorTick records one mirror tick for a unit.
func (m *PlantMetrics) RecordMirrorTick(unitID uint8, err error) {
	label := unitLabel(unitID)
	m.MirrorTicks.WithLabelValues(label).Inc()
	if err != nil {
		m.MirrorErrors.WithLabelValues(label).Inc()
	}
}

// ObserveACState reflects one AC's simulated state onto the gauges.
func (m *PlantMetrics) ObserveACState(unitID uint8, acIndex int, temperature uint16, coilOn bool) {
	unit := unitLabel(unitID)
	ac := strconv.Itoa(acIndex)
	m.Temperature.WithLabelValues(unit, ac).Set(float64(temperature))
	coil := 0.0
	if coilOn {
		coil = 1.0
	}
	m.CoilState.WithLabelValues(unit, ac).Set(coil)
}

// RecordEndpointRequest records one served Modbus request.
func (m *PlantMetrics) RecordEndpointRequest(function string, err error) {
	m.EndpointRequests.WithLabelValues(function).Inc()
	if err != nil {
		m.EndpointExceptions.WithLabelValues(function).Inc()
	}
}

// PanelMetrics holds the control panel's Prometheus metrics.
type PanelMetrics struct {
	// Polling
	PollsTotal   *prometheus.CounterVec
	PollErrors   *prometheus.CounterVec
	PollDuration *prometheus.HistogramVec

	// Writes
	WritesTotal *prometheus.CounterVec
	WriteErrors *prometheus.CounterVec

	// Circuit breaker (0 closed, 1 half-open, 2 open)
	BreakerState *prometheus.GaugeVec

	// MQTT
	MQTTMessagesPublished prometheus.Counter
	MQTTMessagesFailed    prometheus.Counter
	MQTTBufferSize        prometheus.Gauge
	MQTTReconnects        prometheus.Counter
	CommandsDropped       prometheus.Counter
}

// NewPanelMetrics registers the panel metric set with reg.
func NewPanelMetrics(reg prometheus.Registerer) *PanelMetrics {
	factory := promauto.With(reg)

	return &PanelMetrics{
		PollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "panel",
			Name:      "polls_total",
			Help:      "Poll cycles per unit, by outcome",
		}, []string{"unit_id", "status"}),
		PollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "panel",
			Name:      "poll_errors_total",
			Help:      "Poll failures per unit, by error type",
		}, []string{"unit_id", "error_type"}),
		PollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hvac",
			Subsystem: "panel",
			Name:      "poll_duration_seconds",
			Help:      "Per-unit poll cycle duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"unit_id"}),
		WritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "panel",
			Name:      "writes_total",
			Help:      "Write commands issued, by kind",
		}, []string{"kind"}),
		WriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "panel",
			Name:      "write_errors_total",
			Help:      "Write commands failed, by kind",
		}, []string{"kind"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hvac",
			Subsystem: "panel",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per unit (0 closed, 1 half-open, 2 open)",
		}, []string{"unit_id"}),
		MQTTMessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "mqtt",
			Name:      "messages_published_total",
			Help:      "Total number of MQTT messages published",
		}),
		MQTTMessagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "mqtt",
			Name:      "messages_failed_total",
			Help:      "Total number of failed MQTT publishes",
		}),
		MQTTBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hvac",
			Subsystem: "mqtt",
			Name:      "buffer_size",
			Help:      "Current MQTT message buffer size",
		}),
		MQTTReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "mqtt",
			Name:      "reconnects_total",
			Help:      "Total number of MQTT reconnection attempts",
		}),
		CommandsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hvac",
			Subsystem: "mqtt",
			Name:      "commands_dropped_total",
			Help:      "Inbound command messages dropped because the queue was full",
		}),
	}
}

// RecordPollSuccess records a successful poll cycle for a unit.
func (m *PanelMetrics) RecordPollSuccess(unitID uint8, seconds float64) {
	label := unitLabel(unitID)
	m.PollsTotal.WithLabelValues(label, "success").Inc()
	m.PollDuration.WithLabelValues(label).Observe(seconds)
}

// RecordPollError records a failed poll cycle for a unit.
func (m *PanelMetrics) RecordPollError(unitID uint8, errorType string) {
	label := unitLabel(unitID)
	m.PollsTotal.WithLabelValues(label, "error").Inc()
	m.PollErrors.WithLabelValues(label, errorType).Inc()
}

// RecordWrite records a write command and its outcome.
func (m *PanelMetrics) RecordWrite(kind string, err error) {
	m.WritesTotal.WithLabelValues(kind).Inc()
	if err != nil {
		m.WriteErrors.WithLabelValues(kind).Inc()
	}
}

// SetBreakerState reflects a unit's circuit breaker state.
func (m *PanelMetrics) SetBreakerState(unitID uint8, state float64) {
	m.BreakerState.WithLabelValues(unitLabel(unitID)).Set(state)
}

// RecordMQTTPublish records an MQTT publish operation.
func (m *PanelMetrics) RecordMQTTPublish(success bool) {
	if success {
		m.MQTTMessagesPublished.Inc()
	} else {
		m.MQTTMessagesFailed.Inc()
	}
}

// UpdateMQTTBufferSize updates the MQTT buffer size gauge.
func (m *PanelMetrics) UpdateMQTTBufferSize(size int) {
	m.MQTTBufferSize.Set(float64(size))
}

// RecordMQTTReconnect records an MQTT reconnection attempt.
func (m *PanelMetrics) RecordMQTTReconnect() {
	m.MQTTReconnects.Inc()
}

// RecordCommandDropped records an inbound command dropped under load.
func (m *PanelMetrics) RecordCommandDropped() {
	m.CommandsDropped.Inc()
}

func unitLabel(unitID uint8) string {
	return strconv.Itoa(int(unitID))
}
