// Package telemetry provides a thread-safe tracker for controller state.
// It is read by the HTTP handlers, the Prometheus collector, and the
// periodic MQTT telemetry publisher.
package telemetry

import (
	"sync"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/routine"
)

// Config contains daemon configuration for display.
type Config struct {
	SensorPollMs  int64
	RoutineTickMs int64
	TriggerPollMs int64
	TelemetryMs   int64
	Broker        string
	HTTPPort      string
}

// ChannelStatus is the reported state of one relay channel.
type ChannelStatus struct {
	Channel    int
	On         bool
	Amps       float64
	Healthy    bool
	LastToggle time.Time
}

// Calibration reports the sensor calibration parameters.
type Calibration struct {
	Calibrated bool
	Offset     float64
	NoiseFloor float64
	Factor     float64
}

// Snapshot is a point-in-time view of controller state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	Channels     []ChannelStatus
	FanOn        bool
	FanAmps      float64
	FanHealthy   bool
	TotalAmps    float64
	Temperature  float64
	WeatherTemp  float64
	AmpThreshold float64
	Calibration  Calibration
	Runs         []routine.RunSnapshot

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable controller state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// UpdateChannels sets the relay bank view. Called from the telemetry loop.
func (t *Tracker) UpdateChannels(channels []ChannelStatus, fanOn bool, fanAmps float64, fanHealthy bool, totalAmps float64) {
	t.mu.Lock()
	t.snap.Channels = channels
	t.snap.FanOn = fanOn
	t.snap.FanAmps = fanAmps
	t.snap.FanHealthy = fanHealthy
	t.snap.TotalAmps = totalAmps
	t.mu.Unlock()
}

// UpdateEnvironment sets the temperature inputs the triggers see.
func (t *Tracker) UpdateEnvironment(temperature, weatherTemp float64) {
	t.mu.Lock()
	t.snap.Temperature = temperature
	t.snap.WeatherTemp = weatherTemp
	t.mu.Unlock()
}

// UpdateRuns sets the active routine runs.
func (t *Tracker) UpdateRuns(runs []routine.RunSnapshot) {
	t.mu.Lock()
	t.snap.Runs = runs
	t.mu.Unlock()
}

// SetCalibration records the sensor calibration outcome.
func (t *Tracker) SetCalibration(c Calibration) {
	t.mu.Lock()
	t.snap.Calibration = c
	t.mu.Unlock()
}

// SetAmpThreshold records the confirmation threshold.
func (t *Tracker) SetAmpThreshold(v float64) {
	t.mu.Lock()
	t.snap.AmpThreshold = v
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
