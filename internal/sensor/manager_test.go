package sensor

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/adc"
)

// testConfig returns a Config with no real sleeps and a fixed clock.
func testConfig(now time.Time) Config {
	return Config{
		Sleep: func(time.Duration) {},
		Now:   func() time.Time { return now },
	}
}

// sine returns a waveform of the given raw-count amplitude around the ADC
// midpoint, with one full period per 40 samples (matching SamplesPerCycle).
func sine(amplitude float64) func(n int) int {
	return func(n int) int {
		return adc.Midpoint + int(math.Round(amplitude*math.Sin(2*math.Pi*float64(n)/40)))
	}
}

// sineRMSAmps computes the expected RMS current for a sine of the given
// raw-count amplitude.
func sineRMSAmps(amplitude float64) float64 {
	voltsPeak := amplitude * adc.VRef / adc.Resolution
	return voltsPeak * ampsPerVolt / math.Sqrt2
}

func calibratedManager(t *testing.T, f *adc.FakeReader) *Manager {
	t.Helper()
	m := New(f, testConfig(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return m
}

func TestCalibrateFlatLine(t *testing.T) {
	f := adc.NewFakeReader(nil) // flat mid-rail, no signal
	m := calibratedManager(t, f)

	if !m.Calibrated() {
		t.Error("manager should report calibrated")
	}
	if off := m.CalibrationOffset(); math.Abs(off) > 0.001 {
		t.Errorf("expected near-zero offset on flat line, got %.4fV", off)
	}
	// A dead-quiet line still gets the minimum floor, not zero.
	if floor := m.NoiseFloor(); floor != noiseFloorMin {
		t.Errorf("expected noise floor clamped to %.2f, got %.3f", noiseFloorMin, floor)
	}
}

func TestCalibrateClampsRunawayNoise(t *testing.T) {
	// ±500 counts of garbage is ~8A of apparent noise; the floor must be
	// clamped rather than swallowing every future reading.
	n := 0
	f := adc.NewFakeReader(func(int) int {
		n++
		if n%2 == 0 {
			return adc.Midpoint + 500
		}
		return adc.Midpoint - 500
	})
	m := calibratedManager(t, f)

	if floor := m.NoiseFloor(); floor != noiseFloorMax {
		t.Errorf("expected noise floor clamped to %.2f, got %.3f", noiseFloorMax, floor)
	}
}

func TestMainLineAmpsSine(t *testing.T) {
	f := adc.NewFakeReader(nil)
	m := calibratedManager(t, f)

	// Switch to a real signal after calibration: 200-count amplitude.
	f.Waveform = sine(200)

	amps, err := m.MainLineAmps()
	if err != nil {
		t.Fatalf("MainLineAmps: %v", err)
	}
	want := sineRMSAmps(200) - noiseFloorMin
	if math.Abs(amps-want) > 0.05 {
		t.Errorf("expected ~%.3fA, got %.3fA", want, amps)
	}
}

func TestMainLineAmpsNeverNegative(t *testing.T) {
	f := adc.NewFakeReader(nil)
	m := calibratedManager(t, f)

	// Flat line: raw RMS below the noise floor. Subtraction must clamp
	// at zero, not go negative.
	amps, err := m.MainLineAmps()
	if err != nil {
		t.Fatalf("MainLineAmps: %v", err)
	}
	if amps != 0 {
		t.Errorf("expected 0A on a quiet line, got %.4f", amps)
	}
}

func TestMinThresholdZeroing(t *testing.T) {
	f := adc.NewFakeReader(nil)
	m := calibratedManager(t, f)

	// 20 counts of amplitude is a real signal but below the detection
	// threshold after noise subtraction; it must read as exactly zero.
	f.Waveform = sine(20)

	amps, err := m.MainLineAmps()
	if err != nil {
		t.Fatalf("MainLineAmps: %v", err)
	}
	if amps != 0 {
		t.Errorf("sub-threshold reading should be zeroed, got %.4f", amps)
	}
}

func TestCalibrationFactorScalesReading(t *testing.T) {
	f := adc.NewFakeReader(nil)
	m := calibratedManager(t, f)
	f.Waveform = sine(200)

	m.SetCalibrationFactor(2.0)
	amps, err := m.MainLineAmps()
	if err != nil {
		t.Fatalf("MainLineAmps: %v", err)
	}
	want := sineRMSAmps(200)*2.0 - noiseFloorMin
	if math.Abs(amps-want) > 0.1 {
		t.Errorf("expected ~%.3fA with factor 2.0, got %.3fA", want, amps)
	}
	if m.CalibrationFactor() != 2.0 {
		t.Errorf("expected factor 2.0, got %v", m.CalibrationFactor())
	}
}

func TestRawAmpsSkipsCompensation(t *testing.T) {
	f := adc.NewFakeReader(nil)
	m := calibratedManager(t, f)
	f.Waveform = sine(20)

	raw, err := m.RawAmps()
	if err != nil {
		t.Fatalf("RawAmps: %v", err)
	}
	// The same signal MainLineAmps zeroes must still show up raw.
	if raw <= 0 {
		t.Errorf("expected non-zero raw RMS, got %.4f", raw)
	}
}

func TestPeakAmps(t *testing.T) {
	f := adc.NewFakeReader(nil)
	m := calibratedManager(t, f)
	f.Waveform = sine(200)

	peak, err := m.PeakAmps()
	if err != nil {
		t.Fatalf("PeakAmps: %v", err)
	}
	wantPeak := 200 * adc.VRef / adc.Resolution * ampsPerVolt
	if math.Abs(peak-wantPeak) > 0.1 {
		t.Errorf("expected peak ~%.3fA, got %.3fA", wantPeak, peak)
	}
}

func TestContinuousReadingCache(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f := adc.NewFakeReader(nil)
	cfg := Config{
		Sleep: func(time.Duration) {},
		Now:   func() time.Time { return now },
	}
	m := New(f, cfg)
	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if m.CachedAmps() != 0 {
		t.Errorf("cache should start at 0, got %v", m.CachedAmps())
	}

	f.Waveform = sine(200)
	if err := m.UpdateContinuousReading(); err != nil {
		t.Fatalf("UpdateContinuousReading: %v", err)
	}
	if m.CachedAmps() <= 0 {
		t.Errorf("expected positive cached reading, got %v", m.CachedAmps())
	}

	now = now.Add(3 * time.Second)
	if age := m.CacheAge(); age != 3*time.Second {
		t.Errorf("expected cache age 3s, got %v", age)
	}
}

func TestReadErrorPropagates(t *testing.T) {
	f := adc.NewFakeReader(nil)
	m := calibratedManager(t, f)

	f.ReadError = errors.New("spi gone")
	if _, err := m.MainLineAmps(); err == nil {
		t.Error("expected error from failing ADC")
	}
	if err := m.Calibrate(); err == nil {
		t.Error("expected calibration error from failing ADC")
	}
}

func TestUncalibratedFlag(t *testing.T) {
	m := New(adc.NewFakeReader(nil), testConfig(time.Now()))
	if m.Calibrated() {
		t.Error("new manager should not report calibrated")
	}
	if m.CalibrationFactor() != 1.0 {
		t.Errorf("default calibration factor should be 1.0, got %v", m.CalibrationFactor())
	}
}
