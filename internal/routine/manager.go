package routine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/registry"
	"github.com/nkepah/greenhouse-controller/internal/relay"
)

// Switcher is the relay surface the engine drives. *relay.Controller
// satisfies it.
type Switcher interface {
	SetRelayState(ch relay.Channel, on bool) (float64, error)
	DeviceState(ch relay.Channel) bool
	AmpThreshold() float64
}

// Config holds engine tunables.
type Config struct {
	// ResultsBuffer and ProgressBuffer size the event channels. Events
	// are dropped (with a log line) when a channel is full, so a slow
	// consumer can never stall a tick.
	ResultsBuffer  int
	ProgressBuffer int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.ResultsBuffer == 0 {
		c.ResultsBuffer = 16
	}
	if c.ProgressBuffer == 0 {
		c.ProgressBuffer = 32
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// run is the in-flight execution state of one routine.
type run struct {
	routine Routine
	reverse bool // execute each step with its action inverted
	status  Status

	stepIndex int
	phase     runPhase

	// Sequential-step cursor: index of the device being processed and,
	// while phaseDeviceHold, when its hold expires.
	seqPos       int
	holdDeadline time.Time

	// Step-wait deadline for phaseStepWait.
	waitUntil time.Time

	results []ConfirmResult
}

type runPhase int

const (
	phaseStep runPhase = iota // issuing device commands for the current step
	phaseDeviceHold
	phaseStepWait
)

// RunSnapshot is a telemetry view of one active or recently finished run.
type RunSnapshot struct {
	RoutineID   string
	RoutineName string
	Step        int
	TotalSteps  int
	Status      Status
}

// Manager owns routine definitions, trigger state, and active runs.
// All public methods are safe for concurrent use; the step machine only
// advances inside Process, so a tick sees a consistent world.
type Manager struct {
	mu        sync.Mutex
	routines  []Routine
	trigState map[string]*triggerState
	runs      map[string]*run // keyed by routine id, one run per routine
	last      map[string]Status

	relays    Switcher
	devices   registry.Registry
	threshold float64

	results  chan StepResults
	progress chan Progress
	now      func() time.Time
}

// NewManager creates an engine bound to the relay controller and device
// registry. The amp threshold starts from the controller's current value.
func NewManager(cfg Config, relays Switcher, devices registry.Registry) *Manager {
	cfg.applyDefaults()
	return &Manager{
		trigState: make(map[string]*triggerState),
		runs:      make(map[string]*run),
		last:      make(map[string]Status),
		relays:    relays,
		devices:   devices,
		threshold: relays.AmpThreshold(),
		results:   make(chan StepResults, cfg.ResultsBuffer),
		progress:  make(chan Progress, cfg.ProgressBuffer),
		now:       cfg.Now,
	}
}

// Results delivers per-step confirmation outcomes.
func (m *Manager) Results() <-chan StepResults { return m.results }

// Progress delivers run lifecycle and step-advance events.
func (m *Manager) Progress() <-chan Progress { return m.progress }

// SetAmpThreshold updates the minimum delta treated as confirmation of a
// device command.
func (m *Manager) SetAmpThreshold(threshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if threshold < 0 {
		threshold = 0
	}
	m.threshold = threshold
}

// AmpThreshold returns the confirmation threshold.
func (m *Manager) AmpThreshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// Add registers a routine. A routine with the same id is replaced; a running
// replacement keeps executing its old definition until it finishes.
func (m *Manager) Add(r Routine) error {
	if r.ID == "" {
		return fmt.Errorf("routine needs an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.routines {
		if m.routines[i].ID == r.ID {
			m.routines[i] = r
			return nil
		}
	}
	m.routines = append(m.routines, r)
	return nil
}

// Delete removes a routine and its trigger state. An in-flight run is
// stopped.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.routines {
		if m.routines[i].ID == id {
			m.routines = append(m.routines[:i], m.routines[i+1:]...)
			delete(m.trigState, id)
			delete(m.last, id)
			if rn, ok := m.runs[id]; ok && rn.status == StatusRunning {
				rn.status = StatusStopped
			}
			return true
		}
	}
	return false
}

// AddStep appends a step to a routine.
func (m *Manager) AddStep(id string, s Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil {
		return fmt.Errorf("routine %q not found", id)
	}
	r.Steps = append(r.Steps, s)
	return nil
}

// ClearSteps removes all steps from a routine.
func (m *Manager) ClearSteps(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil {
		return fmt.Errorf("routine %q not found", id)
	}
	r.Steps = nil
	return nil
}

// Sync replaces the full routine set, e.g. after a registry push. Trigger
// state for routines that survive the sync is kept so hysteresis bands do
// not re-fire.
func (m *Manager) Sync(routines []Routine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make(map[string]bool, len(routines))
	for _, r := range routines {
		kept[r.ID] = true
	}
	for id := range m.trigState {
		if !kept[id] {
			delete(m.trigState, id)
		}
	}
	m.routines = append(m.routines[:0], routines...)
}

// Routines returns a copy of all definitions.
func (m *Manager) Routines() []Routine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Routine, len(m.routines))
	copy(out, m.routines)
	return out
}

// Routine returns one definition by id.
func (m *Manager) Routine(id string) (Routine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.find(id); r != nil {
		return *r, true
	}
	return Routine{}, false
}

// Status reports the current lifecycle state of a routine: RUNNING while a
// run is in flight, otherwise the outcome of the most recent run, or IDLE.
func (m *Manager) Status(id string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rn, ok := m.runs[id]; ok {
		return rn.status
	}
	if st, ok := m.last[id]; ok {
		return st
	}
	return StatusIdle
}

// ActiveRuns returns a snapshot of every in-flight run.
func (m *Manager) ActiveRuns() []RunSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunSnapshot
	for _, rn := range m.runs {
		out = append(out, RunSnapshot{
			RoutineID:   rn.routine.ID,
			RoutineName: rn.routine.Name,
			Step:        rn.stepIndex,
			TotalSteps:  len(rn.routine.Steps),
			Status:      rn.status,
		})
	}
	return out
}

// StartRoutine begins executing a routine's steps as defined. It reports
// false when the routine is unknown, has no steps, or is already running.
func (m *Manager) StartRoutine(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(id, false)
}

// StartRoutineReversed begins executing a routine with every step action
// inverted. Used for manual "force off" and by auto-reversing triggers.
func (m *Manager) StartRoutineReversed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(id, true)
}

// StartRoutineByName is StartRoutine keyed by the human-readable name.
func (m *Manager) StartRoutineByName(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.routines {
		if m.routines[i].Name == name {
			return m.startLocked(m.routines[i].ID, false)
		}
	}
	return false
}

// StopRoutine halts an in-flight run before its next step or sequential
// device. Devices already switched stay as they are.
func (m *Manager) StopRoutine(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rn, ok := m.runs[id]
	if !ok || rn.status != StatusRunning {
		return false
	}
	rn.status = StatusStopped
	if st := m.trigState[id]; st != nil {
		st.active = false
	}
	m.emitProgress(Progress{
		RoutineID:  id,
		Step:       rn.stepIndex,
		TotalSteps: len(rn.routine.Steps),
		Status:     StatusStopped,
	})
	return true
}

func (m *Manager) startLocked(id string, reverse bool) bool {
	r := m.find(id)
	if r == nil || len(r.Steps) == 0 {
		return false
	}
	if rn, ok := m.runs[id]; ok && rn.status == StatusRunning {
		return false
	}
	// Runs execute against a copy so CRUD on the definition cannot shear
	// a run mid-step.
	m.runs[id] = &run{routine: *r, reverse: reverse, status: StatusRunning}
	if !reverse && r.Trigger.Type == TriggerTimer && r.Trigger.Duration > 0 {
		st := m.state(id)
		st.active = true
		st.switchedOn = m.now()
	}
	m.emitProgress(Progress{
		RoutineID:  id,
		Step:       0,
		TotalSteps: len(r.Steps),
		Status:     StatusRunning,
	})
	return true
}

func (m *Manager) find(id string) *Routine {
	for i := range m.routines {
		if m.routines[i].ID == id {
			return &m.routines[i]
		}
	}
	return nil
}

func (m *Manager) emitProgress(p Progress) {
	select {
	case m.progress <- p:
	default:
		log.Printf("routine: progress channel full, dropping event for %s", p.RoutineID)
	}
}

func (m *Manager) emitResults(r StepResults) {
	select {
	case m.results <- r:
	default:
		log.Printf("routine: results channel full, dropping step %d of %s", r.Step, r.RoutineName)
	}
}
