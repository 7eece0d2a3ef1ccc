package sensor

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/adc"
)

// Manager owns the CT clamp and produces calibrated RMS current readings.
//
// All ADC access is serialized through one mutex: a blocking read and the
// continuous cache updater run from different goroutines and interleaved
// samples would corrupt both measurements.
type Manager struct {
	cfg    Config
	reader adc.Reader

	mu         sync.Mutex // serializes ADC sampling and calibration state
	offset     float64    // zero-current bias offset from mid-rail (volts)
	factor     float64    // user calibration multiplier
	noiseFloor float64    // measured noise floor (amps)
	calibrated bool

	cacheMu    sync.RWMutex
	cachedAmps float64
	cachedAt   time.Time
}

// New creates a Manager reading from the given ADC. Begin must be called
// before readings are meaningful.
func New(reader adc.Reader, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:    cfg,
		reader: reader,
		factor: 1.0,
	}
}

// Begin prepares the sensor and runs an initial calibration. Call it with no
// known load on the line.
func (m *Manager) Begin() error {
	if err := m.Calibrate(); err != nil {
		return fmt.Errorf("initial calibration: %w", err)
	}
	return nil
}

// Calibrate finds the true zero-current bias voltage and measures the noise
// floor. It assumes no load is drawing current; calibrating under load skews
// the offset and inflates the floor.
func (m *Manager) Calibrate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Burst-average to find the actual bias point. The divider resistors
	// are never exactly matched, so the real zero sits slightly off VRef/2.
	var sum float64
	n := m.cfg.CalibrationCycles * m.cfg.SamplesPerCycle
	for i := 0; i < n; i++ {
		raw, err := m.reader.ReadRaw()
		if err != nil {
			return fmt.Errorf("calibration sample: %w", err)
		}
		sum += rawToVolts(raw)
		m.cfg.Sleep(m.cfg.SampleDelay)
	}
	avg := sum / float64(n)
	m.offset = avg - midpointVolts

	// Noise floor: RMS of the residual instantaneous current once the
	// bias is removed. Clamped so a pathological zero or a runaway value
	// can't wreck threshold logic downstream.
	var sumSquares float64
	for i := 0; i < m.cfg.NoiseSamples; i++ {
		raw, err := m.reader.ReadRaw()
		if err != nil {
			return fmt.Errorf("noise sample: %w", err)
		}
		instant := m.instantAmps(raw)
		sumSquares += instant * instant
		m.cfg.Sleep(m.cfg.SampleDelay * 3)
	}
	floor := math.Sqrt(sumSquares / float64(m.cfg.NoiseSamples))
	m.noiseFloor = clamp(floor, noiseFloorMin, noiseFloorMax)
	m.calibrated = true

	log.Printf("sensor: calibrated zero=%.3fV noise=%.3fA", avg, m.noiseFloor)
	return nil
}

// MainLineAmps samples roughly one AC cycle and returns the noise-compensated
// true RMS current. BLOCKING for the full sampling window (tens of ms); never
// call it from a path that cannot tolerate that latency. The result is never
// negative.
func (m *Manager) MainLineAmps() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rms, err := m.sampleRMS(m.cfg.SamplesPerCycle, m.cfg.SampleDelay)
	if err != nil {
		return 0, err
	}
	return m.compensate(rms), nil
}

// UpdateContinuousReading takes a cheap single-half-cycle estimate and writes
// it to the cache. Intended to run from a fast periodic background loop so
// display consumers can read CachedAmps without blocking.
func (m *Manager) UpdateContinuousReading() error {
	m.mu.Lock()
	rms, err := m.sampleRMS(m.cfg.FastSamples, m.cfg.FastSampleDelay)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	amps := m.compensate(rms)
	m.mu.Unlock()

	m.cacheMu.Lock()
	m.cachedAmps = amps
	m.cachedAt = m.cfg.Now()
	m.cacheMu.Unlock()
	return nil
}

// CachedAmps returns the last continuous reading instantly, without sampling.
func (m *Manager) CachedAmps() float64 {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	return m.cachedAmps
}

// CacheAge returns how stale the cached reading is.
func (m *Manager) CacheAge() time.Duration {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	if m.cachedAt.IsZero() {
		return 0
	}
	return m.cfg.Now().Sub(m.cachedAt)
}

// PeakAmps returns the highest instantaneous current over one cycle. No noise
// compensation; useful for inrush diagnostics and calibration checks.
func (m *Manager) PeakAmps() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var peak float64
	for i := 0; i < m.cfg.SamplesPerCycle; i++ {
		raw, err := m.reader.ReadRaw()
		if err != nil {
			return 0, fmt.Errorf("peak sample: %w", err)
		}
		instant := math.Abs(m.instantAmps(raw))
		if instant > peak {
			peak = instant
		}
		m.cfg.Sleep(m.cfg.SampleDelay)
	}
	return peak * m.factor, nil
}

// RawAmps returns the uncompensated RMS current (calibration factor applied,
// but no noise subtraction or threshold zeroing). Diagnostic use only.
func (m *Manager) RawAmps() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rms, err := m.sampleRMS(m.cfg.SamplesPerCycle, m.cfg.SampleDelay)
	if err != nil {
		return 0, err
	}
	return rms * m.factor, nil
}

// CenteredVoltage returns one instantaneous sample with bias and offset
// removed, for wiring diagnostics.
func (m *Manager) CenteredVoltage() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.reader.ReadRaw()
	if err != nil {
		return 0, fmt.Errorf("voltage sample: %w", err)
	}
	return rawToVolts(raw) - midpointVolts - m.offset, nil
}

// SetCalibrationFactor sets the user multiplier for field correction against
// a reference load (e.g. 1.05 if readings run 5% low).
func (m *Manager) SetCalibrationFactor(factor float64) {
	m.mu.Lock()
	m.factor = factor
	m.mu.Unlock()
	log.Printf("sensor: calibration factor set to %.3f", factor)
}

// CalibrationFactor returns the current user multiplier.
func (m *Manager) CalibrationFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.factor
}

// CalibrationOffset returns the measured zero-current bias offset in volts.
func (m *Manager) CalibrationOffset() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// NoiseFloor returns the measured noise floor in amps.
func (m *Manager) NoiseFloor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noiseFloor
}

// Calibrated reports whether Calibrate has completed. Readings taken before
// calibration are provisional.
func (m *Manager) Calibrated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calibrated
}

// MinDetectable returns the minimum current the sensor reports as non-zero.
func (m *Manager) MinDetectable() float64 {
	return m.cfg.MinThreshold
}

// sampleRMS takes n bias-corrected samples and returns the raw RMS current.
// Caller must hold mu.
func (m *Manager) sampleRMS(n int, delay time.Duration) (float64, error) {
	var sumSquares float64
	for i := 0; i < n; i++ {
		raw, err := m.reader.ReadRaw()
		if err != nil {
			return 0, fmt.Errorf("rms sample: %w", err)
		}
		instant := m.instantAmps(raw)
		sumSquares += instant * instant
		m.cfg.Sleep(delay)
	}
	return math.Sqrt(sumSquares / float64(n)), nil
}

// compensate applies the calibration factor, subtracts the noise floor and
// zeroes anything below the detection threshold. Caller must hold mu.
func (m *Manager) compensate(rms float64) float64 {
	amps := rms*m.factor - m.noiseFloor
	if amps < 0 {
		amps = 0
	}
	if amps < m.cfg.MinThreshold {
		amps = 0
	}
	return amps
}

// instantAmps converts one raw sample to instantaneous current. Caller must
// hold mu (reads offset).
func (m *Manager) instantAmps(raw int) float64 {
	return (rawToVolts(raw) - midpointVolts - m.offset) * ampsPerVolt
}

func rawToVolts(raw int) float64 {
	return float64(raw) * adc.VRef / adc.Resolution
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
