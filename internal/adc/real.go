//go:build linux

package adc

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// RealReader reads an MCP3208 12-bit ADC over SPI.
type RealReader struct {
	port    spi.PortCloser
	conn    spi.Conn
	channel int
}

// NewRealReader opens the given SPI device (e.g. "/dev/spidev0.0") and
// prepares the converter channel wired to the current transformer.
func NewRealReader(device string, channel int) (*RealReader, error) {
	if channel < 0 || channel > 7 {
		return nil, fmt.Errorf("adc channel %d out of range 0-7", channel)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	port, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("open spi %s: %w", device, err)
	}

	conn, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi: %w", err)
	}

	return &RealReader{port: port, conn: conn, channel: channel}, nil
}

// ReadRaw performs one single-ended conversion and returns the 12-bit count.
func (r *RealReader) ReadRaw() (int, error) {
	// MCP3208 single-ended frame: start + SGL/DIFF + 3 channel bits,
	// result arrives in the low 12 bits of the last two bytes.
	tx := []byte{
		0x06 | byte(r.channel>>2),
		byte(r.channel << 6),
		0x00,
	}
	rx := make([]byte, 3)
	if err := r.conn.Tx(tx, rx); err != nil {
		return 0, fmt.Errorf("adc tx: %w", err)
	}
	return int(rx[1]&0x0F)<<8 | int(rx[2]), nil
}

// Close releases the SPI port.
func (r *RealReader) Close() error {
	if r.port != nil {
		if err := r.port.Close(); err != nil {
			return fmt.Errorf("close spi: %w", err)
		}
	}
	return nil
}
