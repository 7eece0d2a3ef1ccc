package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the tracker snapshot as Prometheus metrics. Values are
// read at scrape time, so the collector is always as fresh as the tracker.
type Collector struct {
	tracker *Tracker

	channelOn      *prometheus.GaugeVec
	channelAmps    *prometheus.GaugeVec
	channelHealthy *prometheus.GaugeVec
	fanOn          prometheus.Gauge
	fanAmps        prometheus.Gauge
	totalAmps      prometheus.Gauge
	temperature    prometheus.Gauge
	weatherTemp    prometheus.Gauge
	ampThreshold   prometheus.Gauge
	noiseFloor     prometheus.Gauge
	calibrated     prometheus.Gauge
	mqttConnected  prometheus.Gauge
	uptimeSeconds  prometheus.Gauge
	activeRuns     prometheus.Gauge
}

// NewCollector creates a Collector backed by the tracker.
func NewCollector(tracker *Tracker) *Collector {
	channelLabels := []string{"channel"}
	return &Collector{
		tracker: tracker,
		channelOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "greenhouse_channel_on",
			Help: "Relay channel state (1=on, 0=off)",
		}, channelLabels),
		channelAmps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "greenhouse_channel_amps",
			Help: "Last attributed current delta per channel (A)",
		}, channelLabels),
		channelHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "greenhouse_channel_healthy",
			Help: "Channel health (1=drawing expected current or off, 0=on without current)",
		}, channelLabels),
		fanOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_fan_on",
			Help: "Fan output state (1=on, 0=off)",
		}),
		fanAmps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_fan_amps",
			Help: "Last attributed fan current delta (A)",
		}),
		totalAmps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_total_amps",
			Help: "Cached main-line RMS current (A)",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_temperature_celsius",
			Help: "Local temperature (celsius)",
		}),
		weatherTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_weather_temperature_celsius",
			Help: "Forecast temperature (celsius)",
		}),
		ampThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_amp_threshold",
			Help: "Minimum delta treated as device current (A)",
		}),
		noiseFloor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_sensor_noise_floor_amps",
			Help: "Calibrated sensor noise floor (A)",
		}),
		calibrated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_sensor_calibrated",
			Help: "1 if the current sensor completed calibration",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_mqtt_connected",
			Help: "MQTT connection state (1=connected)",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_uptime_seconds",
			Help: "Seconds since the controller started",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_active_routine_runs",
			Help: "Number of routine runs currently executing",
		}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.channelOn.Describe(ch)
	c.channelAmps.Describe(ch)
	c.channelHealthy.Describe(ch)
	c.fanOn.Describe(ch)
	c.fanAmps.Describe(ch)
	c.totalAmps.Describe(ch)
	c.temperature.Describe(ch)
	c.weatherTemp.Describe(ch)
	c.ampThreshold.Describe(ch)
	c.noiseFloor.Describe(ch)
	c.calibrated.Describe(ch)
	c.mqttConnected.Describe(ch)
	c.uptimeSeconds.Describe(ch)
	c.activeRuns.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.tracker.Snapshot()

	c.channelOn.Reset()
	c.channelAmps.Reset()
	c.channelHealthy.Reset()
	for _, cs := range snap.Channels {
		label := strconv.Itoa(cs.Channel)
		c.channelOn.WithLabelValues(label).Set(boolGauge(cs.On))
		c.channelAmps.WithLabelValues(label).Set(cs.Amps)
		c.channelHealthy.WithLabelValues(label).Set(boolGauge(cs.Healthy))
	}

	c.fanOn.Set(boolGauge(snap.FanOn))
	c.fanAmps.Set(snap.FanAmps)
	c.totalAmps.Set(snap.TotalAmps)
	c.temperature.Set(snap.Temperature)
	c.weatherTemp.Set(snap.WeatherTemp)
	c.ampThreshold.Set(snap.AmpThreshold)
	c.noiseFloor.Set(snap.Calibration.NoiseFloor)
	c.calibrated.Set(boolGauge(snap.Calibration.Calibrated))
	c.mqttConnected.Set(boolGauge(snap.MQTTConnected))
	c.uptimeSeconds.Set(snap.Uptime().Seconds())

	running := 0
	for _, r := range snap.Runs {
		if r.Status == "RUNNING" {
			running++
		}
	}
	c.activeRuns.Set(float64(running))

	c.channelOn.Collect(ch)
	c.channelAmps.Collect(ch)
	c.channelHealthy.Collect(ch)
	c.fanOn.Collect(ch)
	c.fanAmps.Collect(ch)
	c.totalAmps.Collect(ch)
	c.temperature.Collect(ch)
	c.weatherTemp.Collect(ch)
	c.ampThreshold.Collect(ch)
	c.noiseFloor.Collect(ch)
	c.calibrated.Collect(ch)
	c.mqttConnected.Collect(ch)
	c.uptimeSeconds.Collect(ch)
	c.activeRuns.Collect(ch)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Counters tracks cumulative controller activity. Unlike the Collector these
// are incremented at the point of the event, not read from the snapshot.
type Counters struct {
	RelayToggles    prometheus.Counter
	RoutineRuns     *prometheus.CounterVec
	ConfirmFailures prometheus.Counter
}

// NewCounters creates and registers the activity counters.
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		RelayToggles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenhouse_relay_toggles_total",
			Help: "Relay switching commands executed, ad-hoc and routine-driven",
		}),
		RoutineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greenhouse_routine_runs_total",
			Help: "Finished routine runs by outcome",
		}, []string{"status"}),
		ConfirmFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenhouse_confirm_failures_total",
			Help: "Device commands whose current delta stayed below the threshold",
		}),
	}
	reg.MustRegister(c.RelayToggles, c.RoutineRuns, c.ConfirmFailures)
	return c
}

// CountRun records a finished run outcome. Non-terminal statuses are ignored.
func (c *Counters) CountRun(status string) {
	switch status {
	case "COMPLETED", "FAILED", "STOPPED":
		c.RoutineRuns.WithLabelValues(status).Inc()
	}
}
