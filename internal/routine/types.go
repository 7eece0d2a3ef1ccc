// Package routine decides when devices change state and executes multi-step,
// multi-device automation sequences with per-device confirmation.
//
// The engine is tick-driven and non-blocking: a step's wait is tracked as a
// deadline and checked on the next tick, never slept through. The only
// blocking moment is the relay pulse itself, which briefly stalls the tick
// that issued it.
package routine

import "time"

// TriggerType selects how a routine decides to fire.
type TriggerType string

const (
	// TriggerThreshold compares the local measured temperature against
	// min/max bounds with a hysteresis band.
	TriggerThreshold TriggerType = "threshold"

	// TriggerSchedule fires at a configured time of day, optionally
	// restricted by day-of-week or day-of-month/month.
	TriggerSchedule TriggerType = "schedule"

	// TriggerTimer runs for a fixed duration after an explicit start.
	TriggerTimer TriggerType = "timer"

	// TriggerWeather applies threshold comparison to the externally
	// fetched forecast temperature instead of the local sensor, for
	// frost protection that must react before the greenhouse cools.
	TriggerWeather TriggerType = "weather"

	// TriggerManual only runs when explicitly invoked.
	TriggerManual TriggerType = "manual"
)

// Action is the state a step drives its devices to.
type Action string

const (
	ActionOn  Action = "ON"
	ActionOff Action = "OFF"
)

// invert returns the opposite action.
func (a Action) invert() Action {
	if a == ActionOn {
		return ActionOff
	}
	return ActionOn
}

// On reports whether the action turns devices on.
func (a Action) On() bool { return a == ActionOn }

// ExecutionMode controls how a step addresses its devices.
type ExecutionMode string

const (
	// ModeParallel issues all device commands together, then waits one
	// step-level duration before advancing.
	ModeParallel ExecutionMode = "parallel"

	// ModeSequential walks DeviceSequence in order, holding each device
	// for its configured duration before moving on.
	ModeSequential ExecutionMode = "sequential"
)

// Trigger holds the firing parameters for a routine. Unused fields are left
// zero; MinTemp/MaxTemp are pointers because 0°C is a meaningful bound.
type Trigger struct {
	Type TriggerType `json:"type"`

	// Threshold / weather parameters.
	MinTemp    *float64 `json:"min_temp,omitempty"`
	MaxTemp    *float64 `json:"max_temp,omitempty"`
	Hysteresis float64  `json:"hysteresis,omitempty"`

	// Schedule parameters. Empty DaysOfWeek means every day; zero
	// DayOfMonth/Month means no restriction.
	Hour       int   `json:"hour,omitempty"`
	Minute     int   `json:"minute,omitempty"`
	DaysOfWeek []int `json:"days_of_week,omitempty"`
	DayOfMonth int   `json:"day_of_month,omitempty"`
	Month      int   `json:"month,omitempty"`

	// Timer parameter.
	Duration time.Duration `json:"duration,omitempty"`
}

// Step is one stage of a routine.
type Step struct {
	Action    Action        `json:"action"`
	DeviceIDs []string      `json:"device_ids"`
	Mode      ExecutionMode `json:"mode"`

	// Sequential mode: explicit per-device order and hold durations.
	// A device with a positive hold is reversed when the hold expires;
	// a device without one keeps the step action for the whole step.
	DeviceSequence []string                 `json:"device_sequence,omitempty"`
	DeviceHold     map[string]time.Duration `json:"device_hold,omitempty"`

	// Wait before advancing to the next step.
	Wait time.Duration `json:"wait,omitempty"`
}

// devices returns the ordered device list the step addresses.
func (s Step) devices() []string {
	if s.Mode == ModeSequential && len(s.DeviceSequence) > 0 {
		return s.DeviceSequence
	}
	return s.DeviceIDs
}

// Routine is one automation definition.
type Routine struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Trigger        Trigger       `json:"trigger"`
	AutoReverse    bool          `json:"auto_reverse,omitempty"`
	MaxRun         time.Duration `json:"max_run,omitempty"`
	Enabled        bool          `json:"enabled"`
	AbortOnFailure bool          `json:"abort_on_failure,omitempty"`
	Steps          []Step        `json:"steps"`
}

// Status is the lifecycle state of a routine run.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
)

// ConfirmResult records whether the measured current delta corroborated one
// device command.
type ConfirmResult struct {
	DeviceID   string  `json:"device_id"`
	DeviceName string  `json:"device_name"`
	Channel    int     `json:"channel"`
	TargetOn   bool    `json:"target_on"`
	DeltaAmps  float64 `json:"delta_amps"`
	Confirmed  bool    `json:"confirmed"`
}

// StepResults carries the confirmation outcome of one completed step. It is
// consumed by the alerting collaborator.
type StepResults struct {
	RoutineID   string
	RoutineName string
	Step        int // zero-based index of the completed step
	Results     []ConfirmResult
}

// Progress reports run advancement for telemetry.
type Progress struct {
	RoutineID  string
	Step       int
	TotalSteps int
	Status     Status
}

// Env carries the inputs for one trigger-evaluation pass.
type Env struct {
	Temperature float64 // local measured temperature, °C
	WeatherTemp float64 // externally fetched forecast temperature, °C
	Hour        int     // 0-23
	Minute      int     // 0-59
	DayOfWeek   int     // 0-6, Sunday = 0
	DayOfMonth  int     // 1-31
	Month       int     // 1-12
	Now         time.Time
}
