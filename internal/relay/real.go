//go:build linux

package relay

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Default BCM pin assignments for the shift-register control lines.
const (
	DefaultPinData  = 13
	DefaultPinClock = 14
	DefaultPinLatch = 12
	DefaultPinOE    = 33
)

// RealDriver bit-bangs the register chain over Linux GPIO character device
// lines. The output-enable line is active-low: driving it high locks the
// outputs, which is the safe state during boot.
type RealDriver struct {
	chip  *gpiocdev.Chip
	data  *gpiocdev.Line
	clock *gpiocdev.Line
	latch *gpiocdev.Line
	oe    *gpiocdev.Line
}

// NewRealDriver requests the four control lines as outputs. Outputs start
// locked (OE high); call SetOutputEnable(true) only after the startup
// sequence has verified the bank.
func NewRealDriver(pinData, pinClock, pinLatch, pinOE int) (*RealDriver, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	d := &RealDriver{chip: chip}
	lines := []struct {
		pin  int
		dst  **gpiocdev.Line
		init int
		name string
	}{
		{pinData, &d.data, 0, "data"},
		{pinClock, &d.clock, 0, "clock"},
		{pinLatch, &d.latch, 1, "latch"},
		{pinOE, &d.oe, 1, "oe"}, // high = outputs locked
	}
	for _, l := range lines {
		line, err := chip.RequestLine(l.pin, gpiocdev.AsOutput(l.init))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", l.name, l.pin, err)
		}
		*l.dst = line
	}
	return d, nil
}

// Shift clocks the 16-bit word out MSB-first and strobes the latch.
func (d *RealDriver) Shift(word uint16) error {
	if err := d.latch.SetValue(0); err != nil {
		return fmt.Errorf("latch low: %w", err)
	}
	for i := 15; i >= 0; i-- {
		bit := 0
		if word&(1<<uint(i)) != 0 {
			bit = 1
		}
		if err := d.data.SetValue(bit); err != nil {
			return fmt.Errorf("data bit %d: %w", i, err)
		}
		if err := d.clock.SetValue(1); err != nil {
			return fmt.Errorf("clock high: %w", err)
		}
		if err := d.clock.SetValue(0); err != nil {
			return fmt.Errorf("clock low: %w", err)
		}
	}
	if err := d.latch.SetValue(1); err != nil {
		return fmt.Errorf("latch high: %w", err)
	}
	return nil
}

// SetOutputEnable releases or locks the register outputs.
func (d *RealDriver) SetOutputEnable(on bool) error {
	v := 1 // locked
	if on {
		v = 0
	}
	if err := d.oe.SetValue(v); err != nil {
		return fmt.Errorf("set output enable: %w", err)
	}
	return nil
}

// Close locks the outputs and releases all GPIO resources.
func (d *RealDriver) Close() error {
	var errs []error
	if d.oe != nil {
		// Leave the bank locked so a restart can't glitch the coils.
		if err := d.oe.SetValue(1); err != nil {
			errs = append(errs, fmt.Errorf("lock outputs: %w", err))
		}
	}
	for _, line := range []*gpiocdev.Line{d.data, d.clock, d.latch, d.oe} {
		if line == nil {
			continue
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
