// Package sensor converts the biased analog voltage from a current
// transformer into a calibrated RMS reading of the shared supply line.
//
// The CT clamp (SCT-013-100 class, 2000:1) has the supply conductor wrapped
// through it three times, tripling sensitivity at the cost of range. A 33Ω
// burden resistor and a mid-rail bias put the signal in the middle of the
// ADC window, so zero current reads as VRef/2 and AC swings around it.
package sensor

import (
	"time"

	"github.com/nkepah/greenhouse-controller/internal/adc"
)

// CT and circuit characteristics.
const (
	ctRatio    = 2000.0 // 100A primary : 50mA secondary
	wireWraps  = 3
	burdenOhms = 33.0

	// ampsPerVolt converts burden voltage to primary current, accounting
	// for the sensitivity multiplication from the extra wraps.
	ampsPerVolt = ctRatio / (burdenOhms * wireWraps)

	midpointVolts = adc.VRef / 2

	// Noise floor sanity bounds (amps). A measured floor outside this
	// band means a miswired clamp or a live load during calibration.
	noiseFloorMin = 0.05
	noiseFloorMax = 0.5
)

// DefaultMinThreshold is the default minimum detectable current. Readings
// below it are reported as zero. Chosen just above the ~0.23A observed
// no-load noise of the 3-wrap configuration.
const DefaultMinThreshold = 0.25

// Config holds sampling parameters. Zero values take the defaults below,
// which cover roughly one 50Hz AC cycle per blocking read.
type Config struct {
	SamplesPerCycle   int           // samples per blocking RMS read (default 40)
	SampleDelay       time.Duration // spacing between samples (default 80µs)
	FastSamples       int           // samples per continuous cache update (default 25)
	FastSampleDelay   time.Duration // spacing for cache updates (default 200µs)
	CalibrationCycles int           // sample bursts when finding the bias (default 3)
	NoiseSamples      int           // samples for the noise floor estimate (default 100)
	MinThreshold      float64       // minimum detectable current (default DefaultMinThreshold)

	// Sleep and Now are injectable for tests. Defaults: time.Sleep, time.Now.
	Sleep func(time.Duration)
	Now   func() time.Time
}

func (c *Config) applyDefaults() {
	if c.SamplesPerCycle == 0 {
		c.SamplesPerCycle = 40
	}
	if c.SampleDelay == 0 {
		c.SampleDelay = 80 * time.Microsecond
	}
	if c.FastSamples == 0 {
		c.FastSamples = 25
	}
	if c.FastSampleDelay == 0 {
		c.FastSampleDelay = 200 * time.Microsecond
	}
	if c.CalibrationCycles == 0 {
		c.CalibrationCycles = 3
	}
	if c.NoiseSamples == 0 {
		c.NoiseSamples = 100
	}
	if c.MinThreshold == 0 {
		c.MinThreshold = DefaultMinThreshold
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
