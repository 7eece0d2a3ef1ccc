package relay

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// CurrentSource supplies line-current readings for delta attribution.
// *sensor.Manager satisfies it; the controller works without one attached,
// degrading all amp results to zero.
type CurrentSource interface {
	// MainLineAmps blocks for a full sampling window.
	MainLineAmps() (float64, error)

	// CachedAmps returns the continuous background reading instantly.
	CachedAmps() float64
}

// Config holds the switching protocol timings. Zero values take the defaults,
// which are the minimums the relay hardware needs.
type Config struct {
	PulseWidth    time.Duration // coil pulse for a latching relay (default 100ms)
	SettleTime    time.Duration // inrush decay before the final sample (default 60ms)
	BlinkCount    int           // startup verification blinks (default 3)
	BlinkInterval time.Duration // blink on/off period (default 150ms)
	MinDelta      float64       // minimum delta treated as a real load (default 0.25A)

	// Sleep and Now are injectable for tests. Defaults: time.Sleep, time.Now.
	Sleep func(time.Duration)
	Now   func() time.Time
}

func (c *Config) applyDefaults() {
	if c.PulseWidth == 0 {
		c.PulseWidth = 100 * time.Millisecond
	}
	if c.SettleTime == 0 {
		c.SettleTime = 60 * time.Millisecond
	}
	if c.BlinkCount == 0 {
		c.BlinkCount = 3
	}
	if c.BlinkInterval == 0 {
		c.BlinkInterval = 150 * time.Millisecond
	}
	if c.MinDelta == 0 {
		c.MinDelta = 0.25
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// channelState is the tracked state of one relay channel or the fan.
type channelState struct {
	on         bool
	amps       float64 // delta measured at the last toggle
	lastToggle time.Time
}

// Controller owns the register image and the tracked logical state of every
// channel. All switching operations serialize through one mutex: the shared
// current sensor measures the whole supply line, so a second toggle inside
// another channel's settle window would corrupt both deltas.
type Controller struct {
	cfg    Config
	driver Driver

	mu       sync.Mutex
	sensor   CurrentSource
	register uint16
	channels [NumChannels + 1]channelState // indexed by Channel, 0 unused
	fan      channelState
	minDelta float64
}

// NewController creates a Controller over the given driver. Begin must run
// before any switching.
func NewController(driver Driver, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:      cfg,
		driver:   driver,
		minDelta: cfg.MinDelta,
	}
}

// Begin runs the startup sequence: outputs locked, all channels blinked to
// exercise the chain, then outputs released. The words are committed while
// the bank is still isolated, so a half-booted register can never glitch a
// coil before the deliberate final enable.
func (c *Controller) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.driver.SetOutputEnable(false); err != nil {
		return fmt.Errorf("lock outputs: %w", err)
	}
	for i := 0; i < c.cfg.BlinkCount; i++ {
		if err := c.driver.Shift(0xFFFF); err != nil {
			return fmt.Errorf("blink on: %w", err)
		}
		c.cfg.Sleep(c.cfg.BlinkInterval)
		if err := c.driver.Shift(0x0000); err != nil {
			return fmt.Errorf("blink off: %w", err)
		}
		c.cfg.Sleep(c.cfg.BlinkInterval)
	}
	c.register = 0
	if err := c.driver.SetOutputEnable(true); err != nil {
		return fmt.Errorf("release outputs: %w", err)
	}
	log.Printf("relay: bank initialized, outputs enabled")
	return nil
}

// AttachSensor enables delta-current attribution around every toggle.
func (c *Controller) AttachSensor(s CurrentSource) {
	c.mu.Lock()
	c.sensor = s
	c.mu.Unlock()
	log.Printf("relay: current sensor attached")
}

// SetAmpThreshold adjusts the minimum delta treated as a real load.
func (c *Controller) SetAmpThreshold(threshold float64) {
	c.mu.Lock()
	c.minDelta = threshold
	c.mu.Unlock()
}

// AmpThreshold returns the active minimum-delta threshold.
func (c *Controller) AmpThreshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minDelta
}

// PulseRelay toggles the channel's latching relay: baseline sample, coil
// pulse, settle wait, final sample. Blocks for pulse width + settle time +
// two sampling windows. The channel's logical state flips unconditionally;
// the returned delta is |final − baseline|, zeroed below the threshold, and
// 0.0 when no sensor is attached.
func (c *Controller) PulseRelay(ch Channel) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pulseLocked(ch)
}

// pulseLocked performs the strictly ordered baseline → pulse → settle → final
// sequence. Caller must hold mu.
func (c *Controller) pulseLocked(ch Channel) (float64, error) {
	if !ch.Valid() {
		return 0, nil
	}
	bit := ch.bit()

	baseline := c.sample(ch, "baseline")

	c.register |= 1 << bit
	if err := c.driver.Shift(c.register); err != nil {
		c.register &^= 1 << bit
		return 0, fmt.Errorf("assert channel %d: %w", ch, err)
	}
	c.cfg.Sleep(c.cfg.PulseWidth)

	// The relay has latched mechanically; return the register bit to 0.
	c.register &^= 1 << bit
	if err := c.driver.Shift(c.register); err != nil {
		return 0, fmt.Errorf("release channel %d: %w", ch, err)
	}
	c.cfg.Sleep(c.cfg.SettleTime)

	final := c.sample(ch, "final")

	delta := math.Abs(final - baseline)
	if delta < c.minDelta {
		delta = 0
	}

	st := &c.channels[ch]
	st.on = !st.on
	st.amps = delta
	st.lastToggle = c.cfg.Now()

	if st.on && delta == 0 && c.sensor != nil {
		log.Printf("relay: channel %d reports no load after switch-on, check relay/device/fuse", ch)
	}
	return delta, nil
}

// SetRelayState pulses only when the tracked state differs from the desired
// one, making set operations idempotent over the non-idempotent pulse.
func (c *Controller) SetRelayState(ch Channel, on bool) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() || c.channels[ch].on == on {
		return 0, nil
	}
	return c.pulseLocked(ch)
}

// SetFan drives the fan MOSFET by level. Unlike relays the fan bit stays set
// in the register image while the fan runs. Delta is measured the same way
// when a sensor is attached.
func (c *Controller) SetFan(on bool) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	baseline := c.sample(0, "fan baseline")

	if on {
		c.register |= 1 << fanBit
	} else {
		c.register &^= 1 << fanBit
	}
	if err := c.driver.Shift(c.register); err != nil {
		return 0, fmt.Errorf("set fan: %w", err)
	}

	var delta float64
	if c.sensor != nil {
		c.cfg.Sleep(c.cfg.SettleTime)
		final := c.sample(0, "fan final")
		delta = math.Abs(final - baseline)
		if delta < c.minDelta {
			delta = 0
		}
	}
	c.fan.on = on
	c.fan.amps = delta
	c.fan.lastToggle = c.cfg.Now()
	return delta, nil
}

// EmergencyShutdown zeroes the register, locks the outputs and resets all
// tracked state. The fail-safe path: it depends on nothing but the driver and
// reports the first hardware error only after both writes were attempted.
func (c *Controller) EmergencyShutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.register = 0
	shiftErr := c.driver.Shift(0)
	oeErr := c.driver.SetOutputEnable(false)

	for i := range c.channels {
		c.channels[i] = channelState{}
	}
	c.fan = channelState{}

	log.Printf("relay: emergency shutdown")
	if shiftErr != nil {
		return fmt.Errorf("shutdown shift: %w", shiftErr)
	}
	if oeErr != nil {
		return fmt.Errorf("shutdown output enable: %w", oeErr)
	}
	return nil
}

// DeviceAmps returns the delta measured at the channel's last toggle.
func (c *Controller) DeviceAmps(ch Channel) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return 0
	}
	return c.channels[ch].amps
}

// DeviceState returns the tracked logical state of the channel.
func (c *Controller) DeviceState(ch Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return false
	}
	return c.channels[ch].on
}

// IsDeviceHealthy reports whether the channel's load matches its state. A
// channel that is ON but measured below the threshold at its last toggle is
// unhealthy: the expected load is not drawing current (device disconnected,
// relay failed, or fuse blown). OFF channels are always healthy.
func (c *Controller) IsDeviceHealthy(ch Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return true
	}
	st := c.channels[ch]
	if !st.on {
		return true
	}
	return st.amps >= c.minDelta
}

// LastToggle returns when the channel last switched.
func (c *Controller) LastToggle(ch Channel) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return time.Time{}
	}
	return c.channels[ch].lastToggle
}

// FanOn returns the tracked fan state.
func (c *Controller) FanOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fan.on
}

// FanAmps returns the delta measured when the fan last switched.
func (c *Controller) FanAmps() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fan.amps
}

// IsFanHealthy applies the same load rule to the fan.
func (c *Controller) IsFanHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fan.on {
		return true
	}
	return c.fan.amps >= c.minDelta
}

// TotalAmps blocks for a fresh full-cycle line reading. 0.0 with no sensor.
func (c *Controller) TotalAmps() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sample(0, "total")
}

// CachedTotalAmps returns the continuous background reading without blocking.
// Callers needing non-blocking telemetry must use this variant.
func (c *Controller) CachedTotalAmps() float64 {
	c.mu.Lock()
	s := c.sensor
	c.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.CachedAmps()
}

// SyncDeviceState sets the tracked logical state without a hardware pulse.
// Used at startup to reconcile tracking with persisted device states before
// any real switching.
func (c *Controller) SyncDeviceState(ch Channel, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return
	}
	c.channels[ch].on = on
}

// RegisterImage returns the current 16-bit logical register state.
func (c *Controller) RegisterImage() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.register
}

// sample reads the line current, degrading to 0 with no sensor or on a read
// error. A failed sample must not abort a switching operation already in
// flight. Caller must hold mu.
func (c *Controller) sample(ch Channel, stage string) float64 {
	if c.sensor == nil {
		return 0
	}
	amps, err := c.sensor.MainLineAmps()
	if err != nil {
		log.Printf("relay: %s sample failed (channel %d): %v", stage, ch, err)
		return 0
	}
	return amps
}
