package store

import (
	"testing"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/routine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAmpThresholdRoundTrip(t *testing.T) {
	s := openTestStore(t)

	got, err := s.AmpThreshold(0.25)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.25 {
		t.Errorf("empty store should return fallback, got %v", got)
	}

	if err := s.SaveAmpThreshold(0.4); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAmpThreshold(0.5); err != nil {
		t.Fatal(err)
	}

	got, err = s.AmpThreshold(0.25)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.5 {
		t.Errorf("expected latest value 0.5, got %v", got)
	}
}

func TestRoutinePersistence(t *testing.T) {
	s := openTestStore(t)

	min := 15.0
	r := routine.Routine{
		ID:          "frost",
		Name:        "Frost Protection",
		Enabled:     true,
		AutoReverse: true,
		MaxRun:      30 * time.Minute,
		Trigger: routine.Trigger{
			Type:       routine.TriggerThreshold,
			MinTemp:    &min,
			Hysteresis: 2.0,
		},
		Steps: []routine.Step{
			{
				Action:         routine.ActionOn,
				Mode:           routine.ModeSequential,
				DeviceSequence: []string{"pump", "valve"},
				DeviceHold:     map[string]time.Duration{"pump": 30 * time.Second},
				Wait:           5 * time.Second,
			},
		},
	}
	if err := s.SaveRoutine(r); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Routines()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 routine, got %d", len(loaded))
	}
	got := loaded[0]
	if got.ID != "frost" || !got.AutoReverse || got.MaxRun != 30*time.Minute {
		t.Errorf("definition mangled: %+v", got)
	}
	if got.Trigger.MinTemp == nil || *got.Trigger.MinTemp != 15.0 {
		t.Errorf("min temp lost: %+v", got.Trigger)
	}
	if len(got.Steps) != 1 || got.Steps[0].DeviceHold["pump"] != 30*time.Second {
		t.Errorf("steps mangled: %+v", got.Steps)
	}

	// Same id replaces.
	r.Name = "Frost Protection v2"
	if err := s.SaveRoutine(r); err != nil {
		t.Fatal(err)
	}
	loaded, _ = s.Routines()
	if len(loaded) != 1 || loaded[0].Name != "Frost Protection v2" {
		t.Errorf("expected replacement, got %+v", loaded)
	}

	if err := s.DeleteRoutine("frost"); err != nil {
		t.Fatal(err)
	}
	loaded, _ = s.Routines()
	if len(loaded) != 0 {
		t.Errorf("expected empty store, got %+v", loaded)
	}
}

func TestReplaceRoutines(t *testing.T) {
	s := openTestStore(t)

	old := routine.Routine{ID: "old", Name: "old"}
	if err := s.SaveRoutine(old); err != nil {
		t.Fatal(err)
	}

	next := []routine.Routine{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B"},
	}
	if err := s.ReplaceRoutines(next); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Routines()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 || loaded[0].ID != "a" || loaded[1].ID != "b" {
		t.Errorf("unexpected set after replace: %+v", loaded)
	}
}
