package telemetry

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nkepah/greenhouse-controller/internal/routine"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{SensorPollMs: 250, RoutineTickMs: 1000, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.SensorPollMs != 250 {
		t.Errorf("Config.SensorPollMs: got %d, want 250", snap.Config.SensorPollMs)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Calibration.Calibrated {
		t.Error("expected Calibrated=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.UpdateChannels([]ChannelStatus{
		{Channel: 3, On: true, Amps: 0.42, Healthy: true},
		{Channel: 5, On: false, Amps: 0, Healthy: true},
	}, true, 0.8, true, 1.22)
	tr.UpdateEnvironment(21.5, 3.0)
	tr.SetAmpThreshold(0.25)
	tr.SetCalibration(Calibration{Calibrated: true, Offset: 1.651, NoiseFloor: 0.07, Factor: 1.0})

	snap := tr.Snapshot()
	if len(snap.Channels) != 2 || snap.Channels[0].Amps != 0.42 {
		t.Errorf("unexpected channels: %+v", snap.Channels)
	}
	if !snap.FanOn || snap.FanAmps != 0.8 {
		t.Errorf("fan state lost: on=%v amps=%v", snap.FanOn, snap.FanAmps)
	}
	if snap.TotalAmps != 1.22 {
		t.Errorf("TotalAmps: got %v, want 1.22", snap.TotalAmps)
	}
	if snap.Temperature != 21.5 || snap.WeatherTemp != 3.0 {
		t.Errorf("environment lost: %v / %v", snap.Temperature, snap.WeatherTemp)
	}
	if !snap.Calibration.Calibrated || snap.Calibration.NoiseFloor != 0.07 {
		t.Errorf("calibration lost: %+v", snap.Calibration)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.UpdateEnvironment(10.0, 0)

	snap1 := tr.Snapshot()
	tr.UpdateEnvironment(20.0, 0)

	if snap1.Temperature != 10.0 {
		t.Error("snapshot should be a copy; Temperature was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Channels: []ChannelStatus{
			{Channel: 5, On: true, Amps: 0.4, Healthy: true, LastToggle: start.Add(time.Minute)},
		},
		FanOn:         true,
		FanAmps:       0.8,
		FanHealthy:    true,
		TotalAmps:     1.2,
		Temperature:   18.5,
		AmpThreshold:  0.25,
		Calibration:   Calibration{Calibrated: true, NoiseFloor: 0.07, Factor: 1.0},
		Runs:          []routine.RunSnapshot{{RoutineID: "frost", RoutineName: "Frost", Step: 1, TotalSteps: 2, Status: routine.StatusRunning}},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{SensorPollMs: 250, Broker: "tcp://localhost:1883", HTTPPort: ":80"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(parsed.Status.Channels) != 1 || parsed.Status.Channels[0].Channel != 5 {
		t.Errorf("channels: %+v", parsed.Status.Channels)
	}
	if parsed.Status.Channels[0].LastToggle != "2026-03-01T00:01:00Z" {
		t.Errorf("LastToggle: got %q", parsed.Status.Channels[0].LastToggle)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected || parsed.Status.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("mqtt block: %+v", parsed.Status.MQTT)
	}
	if len(parsed.Status.Runs) != 1 || parsed.Status.Runs[0].Status != "RUNNING" {
		t.Errorf("runs block: %+v", parsed.Status.Runs)
	}
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
}

func TestFormatSystemEvent(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start, Now: start.Add(time.Minute)}

	data := FormatSystemEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("event block: %+v", parsed.Status)
	}

	// Reason is omitted when empty.
	var raw map[string]interface{}
	json.Unmarshal(FormatSystemEvent(snap, "STARTUP", ""), &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
}

func TestFormatTelemetry(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Channels:    []ChannelStatus{{Channel: 2, On: true, Amps: 0.3, Healthy: true}},
		TotalAmps:   0.3,
		Temperature: 19.0,
		StartTime:   start,
		Now:         start.Add(time.Minute),
		Config:      Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatTelemetry(snap)

	var parsed TelemetryJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(parsed.Channels) != 1 || parsed.TotalAmps != 0.3 {
		t.Errorf("unexpected telemetry: %+v", parsed)
	}
	// The config block stays off the telemetry topic.
	if strings.Contains(string(data), "sensor_poll_ms") {
		t.Error("telemetry payload must not carry config")
	}
}

func TestFormatRoutineAlert(t *testing.T) {
	now := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	res := routine.StepResults{
		RoutineID:   "water",
		RoutineName: "Morning Watering",
		Step:        0,
		Results: []routine.ConfirmResult{
			{DeviceID: "pump", DeviceName: "Pump", Channel: 5, TargetOn: true, DeltaAmps: 0.4, Confirmed: true},
		},
	}

	var parsed RoutineAlertJSON
	if err := json.Unmarshal(FormatRoutineAlert(res, now), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Routine != "Morning Watering" || len(parsed.Results) != 1 {
		t.Errorf("unexpected alert: %+v", parsed)
	}
	if !parsed.Results[0].Confirmed || parsed.Results[0].DeltaAmps != 0.4 {
		t.Errorf("result mangled: %+v", parsed.Results[0])
	}
}

func TestFormatRelayAlert(t *testing.T) {
	now := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)

	var parsed RelayAlertJSON
	if err := json.Unmarshal(FormatRelayAlert(5, "Water Pump", true, 0.38, true, now), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Channel != 5 || !parsed.On || parsed.DeltaAmps != 0.38 {
		t.Errorf("unexpected alert: %+v", parsed)
	}
	if parsed.DeviceName != "Water Pump" || !parsed.Confirmed {
		t.Errorf("device identity lost: %+v", parsed)
	}

	// An unmapped channel keeps an empty name; a weak delta is unconfirmed.
	if err := json.Unmarshal(FormatRelayAlert(9, "", true, 0.05, false, now), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.DeviceName != "" || parsed.Confirmed {
		t.Errorf("unexpected alert: %+v", parsed)
	}
}

func TestCollectorExportsSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.UpdateChannels([]ChannelStatus{
		{Channel: 5, On: true, Amps: 0.4, Healthy: true},
	}, false, 0, true, 0.4)
	tr.UpdateEnvironment(18.0, 2.0)
	tr.SetAmpThreshold(0.25)
	tr.SetMQTTConnected(true)

	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(tr)); err != nil {
		t.Fatal(err)
	}

	if got := metricValue(t, reg, "greenhouse_channel_on"); got != 1 {
		t.Errorf("greenhouse_channel_on: got %v, want 1", got)
	}
	if got := metricValue(t, reg, "greenhouse_total_amps"); got != 0.4 {
		t.Errorf("greenhouse_total_amps: got %v, want 0.4", got)
	}
	if got := metricValue(t, reg, "greenhouse_mqtt_connected"); got != 1 {
		t.Errorf("greenhouse_mqtt_connected: got %v, want 1", got)
	}
	if got := metricValue(t, reg, "greenhouse_temperature_celsius"); got != 18.0 {
		t.Errorf("greenhouse_temperature_celsius: got %v, want 18", got)
	}
}

// metricValue gathers the registry and returns the first sample of a metric.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			if len(mf.Metric) == 0 {
				t.Fatalf("metric %s has no samples", name)
			}
			return mf.Metric[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.UpdateChannels([]ChannelStatus{{Channel: 1, Amps: float64(i)}}, false, 0, true, float64(i))
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if labelValue == "" && len(m.Label) == 0 {
				return m.GetCounter().GetValue()
			}
			for _, l := range m.Label {
				if l.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCountersTrackActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCounters(reg)

	c.RelayToggles.Inc()
	c.RelayToggles.Inc()
	c.ConfirmFailures.Inc()
	c.CountRun("COMPLETED")
	c.CountRun("FAILED")
	c.CountRun("COMPLETED")
	c.CountRun("RUNNING") // not terminal, ignored

	if got := counterValue(t, reg, "greenhouse_relay_toggles_total", ""); got != 2 {
		t.Errorf("relay toggles: got %v, want 2", got)
	}
	if got := counterValue(t, reg, "greenhouse_confirm_failures_total", ""); got != 1 {
		t.Errorf("confirm failures: got %v, want 1", got)
	}
	if got := counterValue(t, reg, "greenhouse_routine_runs_total", "COMPLETED"); got != 2 {
		t.Errorf("completed runs: got %v, want 2", got)
	}
	if got := counterValue(t, reg, "greenhouse_routine_runs_total", "FAILED"); got != 1 {
		t.Errorf("failed runs: got %v, want 1", got)
	}
	if got := counterValue(t, reg, "greenhouse_routine_runs_total", "RUNNING"); got != 0 {
		t.Errorf("running should not be counted, got %v", got)
	}
}
