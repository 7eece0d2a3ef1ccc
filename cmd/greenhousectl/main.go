// Command greenhousectl drives a latching-relay bank for greenhouse devices,
// attributes main-line current draw per channel, and executes automation
// routines. Status is served over HTTP; alerts and telemetry go to MQTT.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nkepah/greenhouse-controller/internal/adc"
	"github.com/nkepah/greenhouse-controller/internal/mqtt"
	"github.com/nkepah/greenhouse-controller/internal/registry"
	"github.com/nkepah/greenhouse-controller/internal/relay"
	"github.com/nkepah/greenhouse-controller/internal/routine"
	"github.com/nkepah/greenhouse-controller/internal/sensor"
	"github.com/nkepah/greenhouse-controller/internal/store"
	"github.com/nkepah/greenhouse-controller/internal/telemetry"
	"github.com/nkepah/greenhouse-controller/internal/web"
)

func main() {
	broker := flag.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	httpAddr := flag.String("http", ":80", "HTTP status address (empty to disable)")
	dbPath := flag.String("db", "/var/lib/greenhousectl/state.db", "SQLite state database path")
	devicesPath := flag.String("devices", "", "JSON device registry file (empty = no devices)")
	spiDev := flag.String("spi", "", "SPI device for the ADC (empty = first available)")
	adcChannel := flag.Int("adc-channel", adc.DefaultChannel, "ADC channel wired to the CT sensor")
	pinData := flag.Int("pin-data", relay.DefaultPinData, "BCM pin for shift register data")
	pinClock := flag.Int("pin-clock", relay.DefaultPinClock, "BCM pin for shift register clock")
	pinLatch := flag.Int("pin-latch", relay.DefaultPinLatch, "BCM pin for shift register latch")
	pinOE := flag.Int("pin-oe", relay.DefaultPinOE, "BCM pin for output enable (active low)")
	sensorPoll := flag.Duration("sensor-poll", 250*time.Millisecond, "Continuous current cache interval")
	routineTick := flag.Duration("routine-tick", time.Second, "Routine step machine tick")
	triggerPoll := flag.Duration("trigger-poll", time.Minute, "Trigger evaluation interval")
	telemetryEvery := flag.Duration("telemetry", 10*time.Second, "Telemetry publish interval (0 to disable)")
	ampThreshold := flag.Float64("amp-threshold", sensor.DefaultMinThreshold, "Default confirmation threshold in amps")

	flag.Parse()

	if err := run(*broker, *httpAddr, *dbPath, *devicesPath, *spiDev, *adcChannel,
		*pinData, *pinClock, *pinLatch, *pinOE,
		*sensorPoll, *routineTick, *triggerPoll, *telemetryEvery, *ampThreshold); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(broker, httpAddr, dbPath, devicesPath, spiDev string, adcChannel,
	pinData, pinClock, pinLatch, pinOE int,
	sensorPoll, routineTick, triggerPoll, telemetryEvery time.Duration, ampThreshold float64) error {

	// Persistent state first: the threshold feeds every other component.
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	threshold, err := st.AmpThreshold(ampThreshold)
	if err != nil {
		log.Printf("threshold restore failed, using default: %v", err)
		threshold = ampThreshold
	}

	// Current sensing.
	reader, err := adc.NewRealReader(spiDev, adcChannel)
	if err != nil {
		return fmt.Errorf("init adc: %w", err)
	}
	defer reader.Close()

	sensors := sensor.New(reader, sensor.Config{MinThreshold: threshold})
	if err := sensors.Begin(); err != nil {
		return fmt.Errorf("init sensor: %w", err)
	}

	// Relay bank.
	driver, err := relay.NewRealDriver(pinData, pinClock, pinLatch, pinOE)
	if err != nil {
		return fmt.Errorf("init relay driver: %w", err)
	}
	relays := relay.NewController(driver, relay.Config{MinDelta: threshold})
	relays.AttachSensor(sensors)
	if err := relays.Begin(); err != nil {
		return fmt.Errorf("init relay bank: %w", err)
	}
	defer driver.Close()

	// Device registry + known logical states.
	devices, err := loadDevices(devicesPath)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	for _, d := range devices.All() {
		if d.Channel > 0 && d.Active {
			if ch, err := relay.NewChannel(d.Channel); err == nil {
				relays.SyncDeviceState(ch, true)
			}
		}
	}

	// Routine engine, restored from the store.
	routines := routine.NewManager(routine.Config{}, relays, devices)
	saved, err := st.Routines()
	if err != nil {
		log.Printf("routine restore failed: %v", err)
	}
	for _, r := range saved {
		if err := routines.Add(r); err != nil {
			log.Printf("routine restore %q: %v", r.ID, err)
		}
	}
	log.Printf("restored %d routines, amp threshold %.2fA", len(saved), threshold)

	// Status tracker and metrics.
	tracker := telemetry.NewTracker(time.Now(), telemetry.Config{
		SensorPollMs:  sensorPoll.Milliseconds(),
		RoutineTickMs: routineTick.Milliseconds(),
		TriggerPollMs: triggerPoll.Milliseconds(),
		TelemetryMs:   telemetryEvery.Milliseconds(),
		Broker:        broker,
		HTTPPort:      httpAddr,
	})
	registryProm := prometheus.NewRegistry()
	registryProm.MustRegister(telemetry.NewCollector(tracker))
	counters := telemetry.NewCounters(registryProm)

	// MQTT.
	client, err := mqtt.NewRealClient(broker, "greenhousectl")
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	cmds := &commander{
		relays:    relays,
		sensors:   sensors,
		routines:  routines,
		devices:   devices,
		store:     st,
		tracker:   tracker,
		publisher: client,
		metrics:   counters,
		now:       time.Now,
	}
	if err := client.SubscribeCommands(func(cmd mqtt.Command) {
		if err := cmds.execute(cmd); err != nil {
			log.Printf("command %s: %v", cmd.Action, err)
		}
	}); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}

	envs := &envState{}
	if err := client.SubscribeEnvironment(func(env mqtt.Environment) {
		envs.update(env)
		snap := envs.snapshot(time.Now())
		tracker.UpdateEnvironment(snap.Temperature, snap.WeatherTemp)
	}); err != nil {
		return fmt.Errorf("subscribe environment: %w", err)
	}

	// Publish startup event with full status snapshot.
	refreshTracker(tracker, relays, sensors, routines)
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: telemetry.FormatSystemEvent(snap, "STARTUP", ""),
	}
	if err := client.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// HTTP status and command server.
	if httpAddr != "" {
		srv := web.New(httpAddr, tracker, registryProm, cmds.execute)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http server listening on %s", httpAddr)
	}

	log.Printf("started: broker=%s sensor-poll=%v routine-tick=%v trigger-poll=%v",
		broker, sensorPoll, routineTick, triggerPoll)

	// Event pump: routine results become alerts, progress becomes log lines.
	done := make(chan struct{})
	defer close(done)
	go pumpRoutineEvents(routines, client, counters, done)

	sensorTicker := time.NewTicker(sensorPoll)
	defer sensorTicker.Stop()
	routineTicker := time.NewTicker(routineTick)
	defer routineTicker.Stop()
	triggerTicker := time.NewTicker(triggerPoll)
	defer triggerTicker.Stop()
	var telemetryTick <-chan time.Time
	if telemetryEvery > 0 {
		telemetryTicker := time.NewTicker(telemetryEvery)
		defer telemetryTicker.Stop()
		telemetryTick = telemetryTicker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(sensors, relays, routines, envs, tracker, client, client,
		time.Now, sensorTicker.C, routineTicker.C, triggerTicker.C, telemetryTick, sigCh)
}

func runLoop(sensors *sensor.Manager, relays *relay.Controller, routines *routine.Manager,
	envs *envState, tracker *telemetry.Tracker, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus,
	now func() time.Time, sensorTick, routineTick, triggerTick, telemetryTick <-chan time.Time,
	sig <-chan os.Signal) error {

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			refreshTracker(tracker, relays, sensors, routines)
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: telemetry.FormatSystemEvent(tracker.Snapshot(), "SHUTDOWN", signalName),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-sensorTick:
			if err := sensors.UpdateContinuousReading(); err != nil {
				log.Printf("sensor cache update error: %v", err)
			}

		case t := <-routineTick:
			routines.Process(t)

		case t := <-triggerTick:
			routines.CheckTriggers(envs.snapshot(t))

		case <-telemetryTick:
			refreshTracker(tracker, relays, sensors, routines)
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
			env := envs.snapshot(now())
			tracker.UpdateEnvironment(env.Temperature, env.WeatherTemp)
			if err := publisher.PublishTelemetry(telemetry.FormatTelemetry(tracker.Snapshot())); err != nil {
				log.Printf("telemetry publish error: %v", err)
			}
		}
	}
}

// pumpRoutineEvents forwards step results to the alert topic, feeds the
// activity counters and logs run progress.
func pumpRoutineEvents(routines *routine.Manager, publisher mqtt.Publisher, counters *telemetry.Counters, done <-chan struct{}) {
	for {
		select {
		case res := <-routines.Results():
			for _, r := range res.Results {
				counters.RelayToggles.Inc()
				if !r.Confirmed {
					counters.ConfirmFailures.Inc()
				}
			}
			if err := publisher.PublishAlert(telemetry.FormatRoutineAlert(res, time.Now())); err != nil {
				log.Printf("routine alert publish error: %v", err)
			}
		case p := <-routines.Progress():
			counters.CountRun(string(p.Status))
			log.Printf("routine %s: step %d/%d %s", p.RoutineID, p.Step, p.TotalSteps, p.Status)
		case <-done:
			return
		}
	}
}

// envState holds the latest environment readings received over MQTT.
type envState struct {
	mu          sync.Mutex
	temperature float64
	weatherTemp float64
}

func (e *envState) update(env mqtt.Environment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.temperature = env.TemperatureC
	if env.WeatherTempC != nil {
		e.weatherTemp = *env.WeatherTempC
	}
}

// snapshot builds the trigger evaluation input for the given instant.
func (e *envState) snapshot(now time.Time) routine.Env {
	e.mu.Lock()
	defer e.mu.Unlock()
	return routine.Env{
		Temperature: e.temperature,
		WeatherTemp: e.weatherTemp,
		Hour:        now.Hour(),
		Minute:      now.Minute(),
		DayOfWeek:   int(now.Weekday()),
		DayOfMonth:  now.Day(),
		Month:       int(now.Month()),
		Now:         now,
	}
}

// deviceFile is the on-disk registry format: a JSON array of devices.
type deviceFile []struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Channel int    `json:"channel"`
	Enabled bool   `json:"enabled"`
	Active  bool   `json:"active,omitempty"`
}

func loadDevices(path string) (*registry.Store, error) {
	if path == "" {
		return registry.NewStore(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries deviceFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	s := registry.NewStore()
	for _, e := range entries {
		s.Add(registry.Device{ID: e.ID, Name: e.Name, Channel: e.Channel, Enabled: e.Enabled, Active: e.Active})
	}
	return s, nil
}
