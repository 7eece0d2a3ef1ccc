package relay

// FakeDriver records shifted words and models the physical behavior of the
// bank for tests: a latching relay toggles on each rising edge of its bit,
// while the fan bit follows the level of the last committed word.
type FakeDriver struct {
	// Words contains every word committed via Shift, in order.
	Words []uint16

	// Latched holds the mechanical position of each latching relay,
	// indexed by register bit. Toggled on every 0-to-1 edge of that bit
	// while outputs are enabled; edges behind a locked OE never reach
	// the coils.
	Latched [16]bool

	// Enabled tracks the output-enable state.
	Enabled bool

	// EnableHistory records every SetOutputEnable call.
	EnableHistory []bool

	// ShiftError, if set, will be returned by Shift.
	ShiftError error

	// EnableError, if set, will be returned by SetOutputEnable.
	EnableError error

	// Closed tracks if Close was called.
	Closed bool

	prev uint16
}

// NewFakeDriver creates a FakeDriver with all relays released.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// Shift records the word and updates the modeled relay positions.
func (f *FakeDriver) Shift(word uint16) error {
	if f.ShiftError != nil {
		return f.ShiftError
	}
	f.Words = append(f.Words, word)
	if f.Enabled {
		rising := word &^ f.prev
		for bit := uint(0); bit < 16; bit++ {
			if rising&(1<<bit) != 0 {
				f.Latched[bit] = !f.Latched[bit]
			}
		}
	}
	f.prev = word
	return nil
}

// SetOutputEnable records the enable state.
func (f *FakeDriver) SetOutputEnable(on bool) error {
	if f.EnableError != nil {
		return f.EnableError
	}
	f.Enabled = on
	f.EnableHistory = append(f.EnableHistory, on)
	return nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.Closed = true
	return nil
}

// LastWord returns the most recently committed word, or 0 if none.
func (f *FakeDriver) LastWord() uint16 {
	if len(f.Words) == 0 {
		return 0
	}
	return f.Words[len(f.Words)-1]
}

// FanLevel reports the current level of the fan bit.
func (f *FakeDriver) FanLevel() bool {
	return f.prev&(1<<fanBit) != 0
}

// Reset clears all recorded state.
func (f *FakeDriver) Reset() {
	*f = FakeDriver{}
}
