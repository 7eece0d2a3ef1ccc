package main

import (
	"fmt"
	"log"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/mqtt"
	"github.com/nkepah/greenhouse-controller/internal/registry"
	"github.com/nkepah/greenhouse-controller/internal/relay"
	"github.com/nkepah/greenhouse-controller/internal/routine"
	"github.com/nkepah/greenhouse-controller/internal/sensor"
	"github.com/nkepah/greenhouse-controller/internal/store"
	"github.com/nkepah/greenhouse-controller/internal/telemetry"
)

// commander executes the command envelope shared by the MQTT command topic
// and POST /api/command.
type commander struct {
	relays    *relay.Controller
	sensors   *sensor.Manager
	routines  *routine.Manager
	devices   registry.Registry
	store     *store.Store
	tracker   *telemetry.Tracker
	publisher mqtt.Publisher
	metrics   *telemetry.Counters
	now       func() time.Time
}

func (c *commander) execute(cmd mqtt.Command) error {
	switch cmd.Action {
	case mqtt.ActionToggle:
		ch, err := relay.NewChannel(cmd.Channel)
		if err != nil {
			return err
		}
		delta, err := c.relays.PulseRelay(ch)
		if err != nil {
			return fmt.Errorf("toggle channel %d: %w", cmd.Channel, err)
		}
		c.metrics.RelayToggles.Inc()
		c.syncRegistry(cmd.Channel, c.relays.DeviceState(ch))
		c.publishRelayAlert(cmd.Channel, c.relays.DeviceState(ch), delta)
		return nil

	case mqtt.ActionSetState:
		if cmd.On == nil {
			return fmt.Errorf("set_state requires on")
		}
		ch, err := relay.NewChannel(cmd.Channel)
		if err != nil {
			return err
		}
		delta, err := c.relays.SetRelayState(ch, *cmd.On)
		if err != nil {
			return fmt.Errorf("set channel %d: %w", cmd.Channel, err)
		}
		c.metrics.RelayToggles.Inc()
		c.syncRegistry(cmd.Channel, *cmd.On)
		c.publishRelayAlert(cmd.Channel, *cmd.On, delta)
		return nil

	case mqtt.ActionSetFan:
		if cmd.On == nil {
			return fmt.Errorf("set_fan requires on")
		}
		if _, err := c.relays.SetFan(*cmd.On); err != nil {
			return fmt.Errorf("set fan: %w", err)
		}
		return nil

	case mqtt.ActionCalibrate:
		if err := c.sensors.Calibrate(); err != nil {
			return fmt.Errorf("calibrate: %w", err)
		}
		c.tracker.SetCalibration(telemetry.Calibration{
			Calibrated: c.sensors.Calibrated(),
			Offset:     c.sensors.CalibrationOffset(),
			NoiseFloor: c.sensors.NoiseFloor(),
			Factor:     c.sensors.CalibrationFactor(),
		})
		return nil

	case mqtt.ActionSnapshot:
		refreshTracker(c.tracker, c.relays, c.sensors, c.routines)
		return c.publisher.PublishTelemetry(telemetry.FormatTelemetry(c.tracker.Snapshot()))

	case mqtt.ActionEmergencyShutdown:
		for _, run := range c.routines.ActiveRuns() {
			c.routines.StopRoutine(run.RoutineID)
		}
		if err := c.relays.EmergencyShutdown(); err != nil {
			return fmt.Errorf("emergency shutdown: %w", err)
		}
		refreshTracker(c.tracker, c.relays, c.sensors, c.routines)
		event := mqtt.SystemEvent{
			Timestamp:  c.now(),
			Event:      "EMERGENCY_SHUTDOWN",
			Retained:   true,
			RawPayload: telemetry.FormatSystemEvent(c.tracker.Snapshot(), "EMERGENCY_SHUTDOWN", ""),
		}
		if err := c.publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish emergency shutdown event: %v", err)
		}
		return nil

	case mqtt.ActionSetAmpThreshold:
		if cmd.Value == nil {
			return fmt.Errorf("set_amp_threshold requires value")
		}
		c.relays.SetAmpThreshold(*cmd.Value)
		c.routines.SetAmpThreshold(*cmd.Value)
		c.tracker.SetAmpThreshold(c.relays.AmpThreshold())
		if err := c.store.SaveAmpThreshold(c.relays.AmpThreshold()); err != nil {
			return err
		}
		return nil

	case mqtt.ActionRoutineAdd:
		if cmd.Routine == nil {
			return fmt.Errorf("routine_add requires routine")
		}
		if err := c.routines.Add(*cmd.Routine); err != nil {
			return err
		}
		return c.store.SaveRoutine(*cmd.Routine)

	case mqtt.ActionRoutineDelete:
		if !c.routines.Delete(cmd.ID) {
			return fmt.Errorf("routine %q not found", cmd.ID)
		}
		return c.store.DeleteRoutine(cmd.ID)

	case mqtt.ActionRoutineAddStep:
		if cmd.Step == nil {
			return fmt.Errorf("routine_add_step requires step")
		}
		if err := c.routines.AddStep(cmd.ID, *cmd.Step); err != nil {
			return err
		}
		return c.persistRoutine(cmd.ID)

	case mqtt.ActionRoutineClearSteps:
		if err := c.routines.ClearSteps(cmd.ID); err != nil {
			return err
		}
		return c.persistRoutine(cmd.ID)

	case mqtt.ActionRoutineStart:
		id := cmd.ID
		if id == "" && cmd.Name != "" {
			for _, r := range c.routines.Routines() {
				if r.Name == cmd.Name {
					id = r.ID
					break
				}
			}
		}
		started := false
		if id != "" {
			if cmd.Reverse {
				started = c.routines.StartRoutineReversed(id)
			} else {
				started = c.routines.StartRoutine(id)
			}
		}
		if !started {
			return fmt.Errorf("routine start refused (unknown, empty, or already running)")
		}
		return nil

	case mqtt.ActionRoutineStop:
		if !c.routines.StopRoutine(cmd.ID) {
			return fmt.Errorf("routine %q is not running", cmd.ID)
		}
		return nil

	case mqtt.ActionRoutineSync:
		c.routines.Sync(cmd.Routines)
		return c.store.ReplaceRoutines(cmd.Routines)

	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

func (c *commander) persistRoutine(id string) error {
	r, ok := c.routines.Routine(id)
	if !ok {
		return fmt.Errorf("routine %q not found", id)
	}
	return c.store.SaveRoutine(r)
}

// syncRegistry mirrors an ad-hoc channel change into the device registry.
func (c *commander) syncRegistry(channel int, on bool) {
	for _, d := range c.devices.DevicesOnChannel(channel) {
		c.devices.SetActive(d.ID, on)
		break // SetActive syncs the whole channel
	}
}

func (c *commander) publishRelayAlert(channel int, on bool, delta float64) {
	name := ""
	if devs := c.devices.DevicesOnChannel(channel); len(devs) > 0 {
		name = devs[0].Name
	}
	confirmed := !on || delta >= c.relays.AmpThreshold()
	payload := telemetry.FormatRelayAlert(channel, name, on, delta, confirmed, c.now())
	if err := c.publisher.PublishAlert(payload); err != nil {
		log.Printf("relay alert publish error: %v", err)
	}
}

// refreshTracker pulls the live controller state into the tracker.
func refreshTracker(tracker *telemetry.Tracker, relays *relay.Controller, sensors *sensor.Manager, routines *routine.Manager) {
	channels := make([]telemetry.ChannelStatus, 0, relay.NumChannels)
	for _, ch := range relay.Channels() {
		channels = append(channels, telemetry.ChannelStatus{
			Channel:    int(ch),
			On:         relays.DeviceState(ch),
			Amps:       relays.DeviceAmps(ch),
			Healthy:    relays.IsDeviceHealthy(ch),
			LastToggle: relays.LastToggle(ch),
		})
	}
	tracker.UpdateChannels(channels, relays.FanOn(), relays.FanAmps(), relays.IsFanHealthy(), relays.CachedTotalAmps())
	tracker.UpdateRuns(routines.ActiveRuns())
	tracker.SetAmpThreshold(relays.AmpThreshold())
	tracker.SetCalibration(telemetry.Calibration{
		Calibrated: sensors.Calibrated(),
		Offset:     sensors.CalibrationOffset(),
		NoiseFloor: sensors.NoiseFloor(),
		Factor:     sensors.CalibrationFactor(),
	})
}
