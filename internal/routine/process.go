package routine

import (
	"errors"
	"log"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/relay"
)

var errUnknownDevice = errors.New("device not found in registry")

// Process advances every in-flight run. Each run makes at most one phase
// transition per tick; waits and holds are deadline checks, so a slow or
// stopped run never blocks the caller. Finished runs are retired and their
// outcome kept for Status.
func (m *Manager) Process(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rn := range m.runs {
		if rn.status == StatusRunning {
			m.advance(rn, now)
		}
		if rn.status != StatusRunning {
			m.last[id] = rn.status
			delete(m.runs, id)
		}
	}
}

func (m *Manager) advance(rn *run, now time.Time) {
	switch rn.phase {
	case phaseStep:
		m.issueStep(rn, now)

	case phaseDeviceHold:
		if now.Before(rn.holdDeadline) {
			return
		}
		// Hold expired: reverse the held device, then keep walking the
		// sequence.
		step := rn.routine.Steps[rn.stepIndex]
		devs := step.devices()
		action := rn.action(step)
		if _, _, err := m.command(devs[rn.seqPos], action.invert()); err != nil {
			m.failRun(rn)
			return
		}
		rn.seqPos++
		m.issueStep(rn, now)

	case phaseStepWait:
		if now.Before(rn.waitUntil) {
			return
		}
		m.nextStep(rn, now)
	}
}

// action returns the step action as executed by this run.
func (rn *run) action(step Step) Action {
	if rn.reverse {
		return step.Action.invert()
	}
	return step.Action
}

// issueStep drives device commands for the current step until the step is
// fully issued or a sequential hold parks the run.
func (m *Manager) issueStep(rn *run, now time.Time) {
	step := rn.routine.Steps[rn.stepIndex]
	devs := step.devices()
	action := rn.action(step)

	if step.Mode == ModeSequential {
		for rn.seqPos < len(devs) {
			id := devs[rn.seqPos]
			res, skipped, err := m.command(id, action)
			if err != nil {
				m.failRun(rn)
				return
			}
			if !skipped {
				rn.results = append(rn.results, res)
				if rn.routine.AbortOnFailure && !res.Confirmed {
					m.failRun(rn)
					return
				}
			}
			// A skipped device was never switched, so its hold must not
			// park the run: the expiry would reverse a relay this step
			// never touched.
			if hold := step.DeviceHold[id]; hold > 0 && !skipped {
				rn.phase = phaseDeviceHold
				rn.holdDeadline = now.Add(hold)
				return
			}
			rn.seqPos++
		}
	} else {
		for _, id := range devs {
			res, skipped, err := m.command(id, action)
			if err != nil {
				m.failRun(rn)
				return
			}
			if skipped {
				continue
			}
			rn.results = append(rn.results, res)
			if rn.routine.AbortOnFailure && !res.Confirmed {
				m.failRun(rn)
				return
			}
		}
	}

	m.emitResults(StepResults{
		RoutineID:   rn.routine.ID,
		RoutineName: rn.routine.Name,
		Step:        rn.stepIndex,
		Results:     rn.results,
	})
	rn.results = nil
	rn.phase = phaseStepWait
	rn.waitUntil = now.Add(step.Wait)
}

// nextStep moves past an elapsed step wait. A zero wait still defers the
// next step to the tick after the one that issued it.
func (m *Manager) nextStep(rn *run, now time.Time) {
	rn.stepIndex++
	rn.seqPos = 0
	if rn.stepIndex >= len(rn.routine.Steps) {
		rn.status = StatusCompleted
		m.emitProgress(Progress{
			RoutineID:  rn.routine.ID,
			Step:       rn.stepIndex,
			TotalSteps: len(rn.routine.Steps),
			Status:     StatusCompleted,
		})
		return
	}
	m.emitProgress(Progress{
		RoutineID:  rn.routine.ID,
		Step:       rn.stepIndex,
		TotalSteps: len(rn.routine.Steps),
		Status:     StatusRunning,
	})
	rn.phase = phaseStep
	m.issueStep(rn, now)
}

func (m *Manager) failRun(rn *run) {
	rn.status = StatusFailed
	if len(rn.results) > 0 {
		m.emitResults(StepResults{
			RoutineID:   rn.routine.ID,
			RoutineName: rn.routine.Name,
			Step:        rn.stepIndex,
			Results:     rn.results,
		})
		rn.results = nil
	}
	m.emitProgress(Progress{
		RoutineID:  rn.routine.ID,
		Step:       rn.stepIndex,
		TotalSteps: len(rn.routine.Steps),
		Status:     StatusFailed,
	})
}

// command resolves a device and drives its relay to the requested state.
// Disabled devices and devices without a hardware channel are skipped.
// An already-satisfied target is confirmed without touching the hardware.
func (m *Manager) command(deviceID string, action Action) (ConfirmResult, bool, error) {
	dev, ok := m.devices.Device(deviceID)
	if !ok {
		log.Printf("routine: device %q not found in registry", deviceID)
		return ConfirmResult{}, false, errUnknownDevice
	}
	if !dev.Enabled || dev.Channel == 0 {
		log.Printf("routine: skipping %s (disabled or unmapped)", dev.ID)
		return ConfirmResult{}, true, nil
	}
	ch, err := relay.NewChannel(dev.Channel)
	if err != nil {
		log.Printf("routine: device %s has invalid channel %d: %v", dev.ID, dev.Channel, err)
		return ConfirmResult{}, false, err
	}

	res := ConfirmResult{
		DeviceID:   dev.ID,
		DeviceName: dev.Name,
		Channel:    dev.Channel,
		TargetOn:   action.On(),
	}
	if m.relays.DeviceState(ch) == action.On() {
		res.Confirmed = true
		m.devices.SetActive(dev.ID, action.On())
		return res, false, nil
	}
	delta, err := m.relays.SetRelayState(ch, action.On())
	if err != nil {
		log.Printf("routine: switching %s failed: %v", dev.ID, err)
		return res, false, err
	}
	res.DeltaAmps = delta
	res.Confirmed = delta >= m.threshold
	m.devices.SetActive(dev.ID, action.On())
	return res, false, nil
}
