package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexus-edge/hvac-control/internal/metrics"
)

// metricValue gathers reg and returns the counter or gauge value of the
// sample matching name and the exact label set.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			match := true
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	t.Fatalf("no sample %s%v in gathered output", name, labels)
	return 0
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			match := true
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					match = false
					break
				}
			}
			if match {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	t.Fatalf("no histogram %s%v in gathered output", name, labels)
	return 0
}

func TestPlantMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPlantMetrics(reg)

	m.RecordControlTick(1, nil)
	m.RecordControlTick(1, nil)
	m.RecordControlTick(1, errors.New("bank fault"))
	m.RecordMirrorTick(2, nil)
	m.RecordEndpointRequest("read_holding", nil)
	m.RecordEndpointRequest("read_holding", errors.New("illegal data address"))

	unit1 := map[string]string{"unit_id": "1"}
	if got := metricValue(t, reg, "hvac_control_ticks_total", unit1); got != 3 {
		t.Errorf("control ticks = %v, want 3", got)
	}
	if got := metricValue(t, reg, "hvac_control_errors_total", unit1); got != 1 {
		t.Errorf("control errors = %v, want 1", got)
	}
	if got := metricValue(t, reg, "hvac_mirror_ticks_total", map[string]string{"unit_id": "2"}); got != 1 {
		t.Errorf("mirror ticks = %v, want 1", got)
	}

	fn := map[string]string{"function": "read_holding"}
	if got := metricValue(t, reg, "hvac_endpoint_requests_total", fn); got != 2 {
		t.Errorf("endpoint requests = %v, want 2", got)
	}
	if got := metricValue(t, reg, "hvac_endpoint_exceptions_total", fn); got != 1 {
		t.Errorf("endpoint exceptions = %v, want 1", got)
	}
}

func TestPlantMetrics_ObserveACState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPlantMetrics(reg)

	ac := map[string]string{"unit_id": "1", "ac": "3"}

	m.ObserveACState(1, 3, 28, true)
	if got := metricValue(t, reg, "hvac_plant_temperature_celsius", ac); got != 28 {
		t.Errorf("temperature gauge = %v, want 28", got)
	}
	if got := metricValue(t, reg, "hvac_plant_coil_state", ac); got != 1 {
		t.Errorf("coil gauge = %v, want 1", got)
	}

	// The gauges track the latest observation, not a sum.
	m.ObserveACState(1, 3, 27, false)
	if got := metricValue(t, reg, "hvac_plant_temperature_celsius", ac); got != 27 {
		t.Errorf("temperature gauge = %v, want 27", got)
	}
	if got := metricValue(t, reg, "hvac_plant_coil_state", ac); got != 0 {
		t.Errorf("coil gauge = %v, want 0", got)
	}
}

func TestPanelMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPanelMetrics(reg)

	m.RecordPollSuccess(1, 0.02)
	m.RecordPollError(2, "defaulted")
	m.RecordWrite("coil", nil)
	m.RecordWrite("threshold_high", errors.New("device timeout"))
	m.SetBreakerState(1, 2)

	if got := metricValue(t, reg, "hvac_panel_polls_total", map[string]string{"unit_id": "1", "status": "success"}); got != 1 {
		t.Errorf("successful polls = %v, want 1", got)
	}
	if got := metricValue(t, reg, "hvac_panel_polls_total", map[string]string{"unit_id": "2", "status": "error"}); got != 1 {
		t.Errorf("failed polls = %v, want 1", got)
	}
	if got := metricValue(t, reg, "hvac_panel_poll_errors_total", map[string]string{"unit_id": "2", "error_type": "defaulted"}); got != 1 {
		t.Errorf("poll errors = %v, want 1", got)
	}
	if got := histogramCount(t, reg, "hvac_panel_poll_duration_seconds", map[string]string{"unit_id": "1"}); got != 1 {
		t.Errorf("poll duration samples = %d, want 1", got)
	}

	if got := metricValue(t, reg, "hvac_panel_writes_total", map[string]string{"kind": "coil"}); got != 1 {
		t.Errorf("coil writes = %v, want 1", got)
	}
	if got := metricValue(t, reg, "hvac_panel_writes_total", map[string]string{"kind": "threshold_high"}); got != 1 {
		t.Errorf("threshold writes = %v, want 1", got)
	}
	if got := metricValue(t, reg, "hvac_panel_write_errors_total", map[string]string{"kind": "threshold_high"}); got != 1 {
		t.Errorf("write errors = %v, want 1", got)
	}
	if got := metricValue(t, reg, "hvac_panel_breaker_state", map[string]string{"unit_id": "1"}); got != 2 {
		t.Errorf("breaker state = %v, want 2 (open)", got)
	}
}

func TestPanelMetrics_MQTTCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPanelMetrics(reg)

	m.RecordMQTTPublish(true)
	m.RecordMQTTPublish(true)
	m.RecordMQTTPublish(false)
	m.UpdateMQTTBufferSize(42)
	m.RecordMQTTReconnect()
	m.RecordCommandDropped()

	none := map[string]string{}
	if got := metricValue(t, reg, "hvac_mqtt_messages_published_total", none); got != 2 {
		t.Errorf("published = %v, want 2", got)
	}
	if got := metricValue(t, reg, "hvac_mqtt_messages_failed_total", none); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := metricValue(t, reg, "hvac_mqtt_buffer_size", none); got != 42 {
		t.Errorf("buffer size = %v, want 42", got)
	}
	if got := metricValue(t, reg, "hvac_mqtt_reconnects_total", none); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
	if got := metricValue(t, reg, "hvac_mqtt_commands_dropped_total", none); got != 1 {
		t.Errorf("dropped commands = %v, want 1", got)
	}
}
