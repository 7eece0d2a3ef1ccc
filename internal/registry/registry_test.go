package registry

import "testing"

func testStore() *Store {
	return NewStore(
		Device{ID: "pump1", Name: "Water Pump", Channel: 5, Enabled: true},
		Device{ID: "pump1b", Name: "Pump Indicator", Channel: 5, Enabled: true},
		Device{ID: "heater", Name: "Heater", Channel: 3, Enabled: true},
		Device{ID: "spare", Name: "Spare", Channel: 0, Enabled: false},
	)
}

func TestDeviceLookup(t *testing.T) {
	s := testStore()

	d, ok := s.Device("heater")
	if !ok {
		t.Fatal("heater not found")
	}
	if d.Channel != 3 || d.Name != "Heater" {
		t.Errorf("unexpected device: %+v", d)
	}

	if _, ok := s.Device("nope"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestDevicesOnChannel(t *testing.T) {
	s := testStore()

	shared := s.DevicesOnChannel(5)
	if len(shared) != 2 {
		t.Fatalf("expected 2 devices on channel 5, got %d", len(shared))
	}

	// Channel 0 means "no hardware channel" and never groups devices.
	if got := s.DevicesOnChannel(0); got != nil {
		t.Errorf("channel 0 should return nothing, got %v", got)
	}
}

func TestSetActiveSyncsChannel(t *testing.T) {
	s := testStore()

	s.SetActive("pump1", true)

	for _, id := range []string{"pump1", "pump1b"} {
		d, _ := s.Device(id)
		if !d.Active {
			t.Errorf("%s should be active after channel sync", id)
		}
	}
	d, _ := s.Device("heater")
	if d.Active {
		t.Error("heater on another channel must not change")
	}
}

func TestAddReplacesById(t *testing.T) {
	s := testStore()
	s.Add(Device{ID: "heater", Name: "Heater Mk2", Channel: 4, Enabled: true})

	d, _ := s.Device("heater")
	if d.Name != "Heater Mk2" || d.Channel != 4 {
		t.Errorf("expected replacement, got %+v", d)
	}
	if len(s.All()) != 4 {
		t.Errorf("expected 4 devices, got %d", len(s.All()))
	}
}
