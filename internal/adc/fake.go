package adc

// FakeReader is a test double that synthesizes ADC samples from a waveform
// function of the sample index. It lets sensor tests exercise the RMS math
// against known signals without hardware or real sampling delays.
type FakeReader struct {
	// Waveform maps sample index to a raw ADC count. If nil, Read
	// returns the mid-rail count (no signal).
	Waveform func(n int) int

	// Reads counts the total samples taken.
	Reads int

	// ReadError, if set, will be returned by ReadRaw.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool
}

// Midpoint is the raw count corresponding to the mid-rail bias voltage.
const Midpoint = Resolution / 2

// NewFakeReader creates a FakeReader with the given waveform.
func NewFakeReader(waveform func(n int) int) *FakeReader {
	return &FakeReader{Waveform: waveform}
}

// ReadRaw returns the next synthesized sample, clamped to the ADC range.
func (f *FakeReader) ReadRaw() (int, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	n := f.Reads
	f.Reads++
	if f.Waveform == nil {
		return Midpoint, nil
	}
	v := f.Waveform(n)
	if v < 0 {
		v = 0
	}
	if v > Resolution {
		v = Resolution
	}
	return v, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset clears the sample counter and error state.
func (f *FakeReader) Reset() {
	f.Reads = 0
	f.ReadError = nil
	f.Closed = false
}
