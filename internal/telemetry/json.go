package telemetry

import (
	"encoding/json"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/routine"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Channels      []ChannelJSON   `json:"channels"`
	Fan           FanJSON         `json:"fan"`
	TotalAmps     float64         `json:"total_amps"`
	Temperature   float64         `json:"temperature_c"`
	WeatherTemp   float64         `json:"weather_temp_c"`
	AmpThreshold  float64         `json:"amp_threshold"`
	Calibration   CalibrationJSON `json:"calibration"`
	Runs          []RunJSON       `json:"runs,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Config        ConfigJSON      `json:"config"`
}

// ChannelJSON is the JSON representation of one relay channel.
type ChannelJSON struct {
	Channel    int     `json:"channel"`
	On         bool    `json:"on"`
	Amps       float64 `json:"amps"`
	Healthy    bool    `json:"healthy"`
	LastToggle string  `json:"last_toggle,omitempty"`
}

// FanJSON is the JSON representation of the fan output.
type FanJSON struct {
	On      bool    `json:"on"`
	Amps    float64 `json:"amps"`
	Healthy bool    `json:"healthy"`
}

// CalibrationJSON is the JSON representation of sensor calibration.
type CalibrationJSON struct {
	Calibrated bool    `json:"calibrated"`
	Offset     float64 `json:"offset_v"`
	NoiseFloor float64 `json:"noise_floor_a"`
	Factor     float64 `json:"factor"`
}

// RunJSON is the JSON representation of one routine run.
type RunJSON struct {
	RoutineID   string `json:"routine_id"`
	RoutineName string `json:"routine_name"`
	Step        int    `json:"step"`
	TotalSteps  int    `json:"total_steps"`
	Status      string `json:"status"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SensorPollMs  int64  `json:"sensor_poll_ms"`
	RoutineTickMs int64  `json:"routine_tick_ms"`
	TriggerPollMs int64  `json:"trigger_poll_ms"`
	TelemetryMs   int64  `json:"telemetry_ms"`
	Broker        string `json:"broker"`
	HTTPPort      string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, 0, len(snap.Channels))
	for _, c := range snap.Channels {
		cj := ChannelJSON{
			Channel: c.Channel,
			On:      c.On,
			Amps:    c.Amps,
			Healthy: c.Healthy,
		}
		if !c.LastToggle.IsZero() {
			cj.LastToggle = c.LastToggle.UTC().Format(time.RFC3339)
		}
		channels = append(channels, cj)
	}

	runs := make([]RunJSON, 0, len(snap.Runs))
	for _, r := range snap.Runs {
		runs = append(runs, RunJSON{
			RoutineID:   r.RoutineID,
			RoutineName: r.RoutineName,
			Step:        r.Step,
			TotalSteps:  r.TotalSteps,
			Status:      string(r.Status),
		})
	}

	return StatusInner{
		Channels:     channels,
		Fan:          FanJSON{On: snap.FanOn, Amps: snap.FanAmps, Healthy: snap.FanHealthy},
		TotalAmps:    snap.TotalAmps,
		Temperature:  snap.Temperature,
		WeatherTemp:  snap.WeatherTemp,
		AmpThreshold: snap.AmpThreshold,
		Calibration: CalibrationJSON{
			Calibrated: snap.Calibration.Calibrated,
			Offset:     snap.Calibration.Offset,
			NoiseFloor: snap.Calibration.NoiseFloor,
			Factor:     snap.Calibration.Factor,
		},
		Runs:          runs,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			SensorPollMs:  snap.Config.SensorPollMs,
			RoutineTickMs: snap.Config.RoutineTickMs,
			TriggerPollMs: snap.Config.TriggerPollMs,
			TelemetryMs:   snap.Config.TelemetryMs,
			Broker:        snap.Config.Broker,
			HTTPPort:      snap.Config.HTTPPort,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatSystemEvent returns the JSON status for an MQTT system event.
func FormatSystemEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// TelemetryJSON is the periodic MQTT telemetry payload: the live readings
// without the config block.
type TelemetryJSON struct {
	Channels    []ChannelJSON `json:"channels"`
	Fan         FanJSON       `json:"fan"`
	TotalAmps   float64       `json:"total_amps"`
	Temperature float64       `json:"temperature_c"`
	WeatherTemp float64       `json:"weather_temp_c"`
	Runs        []RunJSON     `json:"runs,omitempty"`
	Timestamp   string        `json:"timestamp"`
}

// FormatTelemetry returns the periodic telemetry payload.
func FormatTelemetry(snap Snapshot) []byte {
	inner := buildInner(snap)
	data, _ := json.Marshal(TelemetryJSON{
		Channels:    inner.Channels,
		Fan:         inner.Fan,
		TotalAmps:   inner.TotalAmps,
		Temperature: inner.Temperature,
		WeatherTemp: inner.WeatherTemp,
		Runs:        inner.Runs,
		Timestamp:   inner.Timestamp,
	})
	return data
}

// RoutineAlertJSON is the MQTT payload published when a routine step
// completes, carrying the per-device confirmation outcomes.
type RoutineAlertJSON struct {
	Routine   string                  `json:"routine"`
	Step      int                     `json:"step"`
	Results   []routine.ConfirmResult `json:"results"`
	Timestamp string                  `json:"timestamp"`
}

// FormatRoutineAlert returns the alert payload for one completed step.
func FormatRoutineAlert(res routine.StepResults, now time.Time) []byte {
	data, _ := json.Marshal(RoutineAlertJSON{
		Routine:   res.RoutineName,
		Step:      res.Step,
		Results:   res.Results,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	return data
}

// RelayAlertJSON is the MQTT payload published after an ad-hoc relay change
// outside any routine. DeviceName is empty when no registry device maps to
// the channel; Confirmed reports whether the measured delta backed the
// switch (an off command confirms unconditionally).
type RelayAlertJSON struct {
	Channel    int     `json:"channel"`
	DeviceName string  `json:"device_name"`
	On         bool    `json:"on"`
	DeltaAmps  float64 `json:"delta_amps"`
	Confirmed  bool    `json:"confirmed"`
	Timestamp  string  `json:"timestamp"`
}

// FormatRelayAlert returns the alert payload for an ad-hoc relay change.
func FormatRelayAlert(channel int, deviceName string, on bool, deltaAmps float64, confirmed bool, now time.Time) []byte {
	data, _ := json.Marshal(RelayAlertJSON{
		Channel:    channel,
		DeviceName: deviceName,
		On:         on,
		DeltaAmps:  deltaAmps,
		Confirmed:  confirmed,
		Timestamp:  now.UTC().Format(time.RFC3339),
	})
	return data
}
