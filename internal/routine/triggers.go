package routine

import "time"

// triggerState is the per-routine memory CheckTriggers keeps between passes.
// It is never persisted: after a restart the bands simply re-evaluate from
// scratch.
type triggerState struct {
	// active reports that the trigger switched the routine on and has not
	// yet released it. side remembers which bound fired: -1 for the min
	// bound (heating), +1 for the max bound (cooling).
	active     bool
	side       int
	switchedOn time.Time

	// Schedule anti-repeat: the instant of the last firing. Comparing
	// against the full instant keeps monthly and annual schedules alive;
	// a day/hour/minute triple would match its own next occurrence.
	lastFired time.Time
}

func (m *Manager) state(id string) *triggerState {
	st := m.trigState[id]
	if st == nil {
		st = &triggerState{}
		m.trigState[id] = st
	}
	return st
}

// CheckTriggers evaluates every enabled routine against the environment and
// starts the ones whose condition fires. Called once per evaluation
// interval; manual routines are never started here.
func (m *Manager) CheckTriggers(env Env) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.routines {
		r := m.routines[i]
		if !r.Enabled {
			continue
		}
		switch r.Trigger.Type {
		case TriggerThreshold:
			m.checkThreshold(r, env.Temperature, env.Now)
		case TriggerWeather:
			m.checkThreshold(r, env.WeatherTemp, env.Now)
		case TriggerSchedule:
			m.checkSchedule(r, env)
		case TriggerTimer:
			m.checkTimer(r, env.Now)
		}
	}
}

// checkThreshold applies the hysteresis band: fire when the temperature
// crosses a bound, release only once it has moved a full hysteresis width
// back inside. A MaxRun ceiling forces the release regardless of
// temperature.
func (m *Manager) checkThreshold(r Routine, temp float64, now time.Time) {
	st := m.state(r.ID)
	tr := r.Trigger

	if !st.active {
		if tr.MinTemp != nil && temp <= *tr.MinTemp {
			if m.startLocked(r.ID, false) {
				st.active, st.side, st.switchedOn = true, -1, now
			}
			return
		}
		if tr.MaxTemp != nil && temp >= *tr.MaxTemp {
			if m.startLocked(r.ID, false) {
				st.active, st.side, st.switchedOn = true, +1, now
			}
		}
		return
	}

	overrun := r.MaxRun > 0 && now.Sub(st.switchedOn) >= r.MaxRun
	released := false
	switch st.side {
	case -1:
		released = tr.MinTemp != nil && temp >= *tr.MinTemp+tr.Hysteresis
	case +1:
		released = tr.MaxTemp != nil && temp <= *tr.MaxTemp-tr.Hysteresis
	}
	if !released && !overrun {
		return
	}
	if r.AutoReverse || overrun {
		if !m.startLocked(r.ID, true) {
			// Forward run still executing; reverse on a later pass.
			return
		}
	}
	st.active = false
}

// checkSchedule fires when the wall clock matches, at most once per
// matching minute. The anti-repeat memory is explicit per routine so two
// evaluation passes inside the same minute cannot double-fire.
func (m *Manager) checkSchedule(r Routine, env Env) {
	tr := r.Trigger
	if env.Hour != tr.Hour || env.Minute != tr.Minute {
		return
	}
	if len(tr.DaysOfWeek) > 0 && !containsInt(tr.DaysOfWeek, env.DayOfWeek) {
		return
	}
	if tr.DayOfMonth != 0 && tr.DayOfMonth != env.DayOfMonth {
		return
	}
	if tr.Month != 0 && tr.Month != env.Month {
		return
	}
	st := m.state(r.ID)
	if !st.lastFired.IsZero() && env.Now.Sub(st.lastFired) < time.Minute {
		return
	}
	if m.startLocked(r.ID, false) {
		st.lastFired = env.Now
	}
}

// checkTimer reverses a timer routine once its duration has elapsed since
// the explicit start.
func (m *Manager) checkTimer(r Routine, now time.Time) {
	st := m.state(r.ID)
	if !st.active || r.Trigger.Duration <= 0 {
		return
	}
	if now.Sub(st.switchedOn) < r.Trigger.Duration {
		return
	}
	if rn, ok := m.runs[r.ID]; ok && rn.status == StatusRunning {
		// Forward run still executing; reverse on a later pass.
		return
	}
	m.startLocked(r.ID, true)
	st.active = false
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
