// Package adc provides analog sampling with hardware abstraction.
// The real implementation reads an MCP3208-class SPI ADC via periph.io.
// The fake implementation synthesizes waveforms for testing without hardware.
package adc

// Reader reads raw ADC samples.
type Reader interface {
	// ReadRaw returns one raw sample in [0, Resolution].
	ReadRaw() (int, error)

	// Close releases ADC resources.
	Close() error
}

// ADC characteristics shared by real and fake implementations.
const (
	// Resolution is the full-scale raw count (12-bit converter).
	Resolution = 4095

	// VRef is the ADC reference voltage.
	VRef = 3.3

	// DefaultChannel is the converter input wired to the CT clamp.
	DefaultChannel = 0
)
