// Package registry defines the device-registry surface the automation engine
// consumes: device identity, hardware channel mapping, enable flags, and
// channel-synchronized logical state. The production registry lives in an
// external service; the in-memory Store here backs local operation and tests.
package registry

import "sync"

// Device describes one registered device.
type Device struct {
	ID      string
	Name    string
	Channel int // 0 = no hardware channel, 1-15 = relay channel
	Enabled bool
	Active  bool // last known logical state
}

// Registry is the read/update surface the relay and routine engines consume.
type Registry interface {
	// Device returns the device with the given id.
	Device(id string) (Device, bool)

	// DevicesOnChannel returns every device sharing the hardware channel,
	// for synchronized multi-relay loads.
	DevicesOnChannel(channel int) []Device

	// SetActive records a new logical state. All devices sharing the
	// target's channel are updated together.
	SetActive(id string, active bool)

	// All returns every registered device.
	All() []Device
}

// Store is an in-memory Registry. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	devices []Device
}

// NewStore creates a Store with the given initial devices.
func NewStore(devices ...Device) *Store {
	s := &Store{}
	s.devices = append(s.devices, devices...)
	return s
}

// Add registers a device. An existing device with the same id is replaced.
func (s *Store) Add(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.devices {
		if s.devices[i].ID == d.ID {
			s.devices[i] = d
			return
		}
	}
	s.devices = append(s.devices, d)
}

// Device returns the device with the given id.
func (s *Store) Device(id string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// DevicesOnChannel returns every device wired to the channel.
func (s *Store) DevicesOnChannel(channel int) []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Device
	for _, d := range s.devices {
		if channel > 0 && d.Channel == channel {
			out = append(out, d)
		}
	}
	return out
}

// SetActive records the state, syncing all devices on the same channel:
// several registry entries can share one physical relay.
func (s *Store) SetActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var channel int
	found := false
	for i := range s.devices {
		if s.devices[i].ID == id {
			channel = s.devices[i].Channel
			s.devices[i].Active = active
			found = true
			break
		}
	}
	if !found || channel == 0 {
		return
	}
	for i := range s.devices {
		if s.devices[i].Channel == channel {
			s.devices[i].Active = active
		}
	}
}

// All returns a copy of every registered device.
func (s *Store) All() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}
