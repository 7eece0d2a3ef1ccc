// Package mqtt provides MQTT publishing and command intake with abstraction
// for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/routine"
)

// TopicTelemetry carries the periodic readings snapshot.
const TopicTelemetry = "greenhouse/controller/telemetry"

// TopicAlerts carries routine confirmation results and ad-hoc relay changes.
const TopicAlerts = "greenhouse/controller/alerts"

// TopicSystem carries system lifecycle events.
const TopicSystem = "greenhouse/controller/system"

// TopicCommands is the inbound topic for controller commands.
const TopicCommands = "greenhouse/controller/cmd"

// TopicEnvironment is the inbound topic for temperature readings used by
// the threshold and weather triggers.
const TopicEnvironment = "greenhouse/sensors/environment"

// Publisher publishes controller messages to MQTT.
type Publisher interface {
	// PublishTelemetry sends a readings snapshot. Best effort: telemetry
	// is periodic, a lost sample is replaced by the next one.
	PublishTelemetry(payload []byte) error

	// PublishAlert sends a confirmation or relay-change alert. Alerts
	// are buffered while disconnected and replayed on reconnect.
	PublishAlert(payload []byte) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber receives inbound controller commands.
type Subscriber interface {
	// SubscribeCommands registers the handler for the command topic.
	// The handler runs on the client's dispatch goroutine and must not
	// block.
	SubscribeCommands(handler func(Command)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "EMERGENCY_SHUTDOWN"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status
// snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status
// snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command is the decoded envelope received on the command topic. Action
// selects the operation; the other fields carry its parameters.
type Command struct {
	Action   string            `json:"action"`
	Channel  int               `json:"channel,omitempty"`
	On       *bool             `json:"on,omitempty"`
	Value    *float64          `json:"value,omitempty"`
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Reverse  bool              `json:"reverse,omitempty"`
	Routine  *routine.Routine  `json:"routine,omitempty"`
	Step     *routine.Step     `json:"step,omitempty"`
	Routines []routine.Routine `json:"routines,omitempty"`
}

// Known command actions.
const (
	ActionToggle            = "toggle"
	ActionSetState          = "set_state"
	ActionSetFan            = "set_fan"
	ActionCalibrate         = "calibrate"
	ActionSnapshot          = "snapshot"
	ActionEmergencyShutdown = "emergency_shutdown"
	ActionSetAmpThreshold   = "set_amp_threshold"
	ActionRoutineAdd        = "routine_add"
	ActionRoutineDelete     = "routine_delete"
	ActionRoutineAddStep    = "routine_add_step"
	ActionRoutineClearSteps = "routine_clear_steps"
	ActionRoutineStart      = "routine_start"
	ActionRoutineStop       = "routine_stop"
	ActionRoutineSync       = "routine_sync"
)

// ParseCommand decodes a command payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("decoding command: %w", err)
	}
	if cmd.Action == "" {
		return Command{}, fmt.Errorf("command without action")
	}
	return cmd, nil
}

// Environment is the decoded payload of the environment topic. WeatherTempC
// is optional; a payload without it leaves the previous forecast in place.
type Environment struct {
	TemperatureC float64  `json:"temperature_c"`
	WeatherTempC *float64 `json:"weather_temp_c,omitempty"`
}

// ParseEnvironment decodes an environment payload.
func ParseEnvironment(payload []byte) (Environment, error) {
	var env Environment
	if err := json.Unmarshal(payload, &env); err != nil {
		return Environment{}, fmt.Errorf("decoding environment: %w", err)
	}
	return env, nil
}
