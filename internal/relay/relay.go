// Package relay drives a daisy-chained pair of 8-bit shift registers fanning
// out to up to 15 latching relays plus one level-driven fan MOSFET, and
// attributes a measured current delta to the channel that just switched.
//
// Latching relays only need a brief coil pulse: the register bit for a relay
// is raised for the pulse width and dropped again, and the relay keeps its
// new position mechanically. The register image is therefore a momentary
// pulse pattern for relays and a persistent level only for the fan bit.
package relay

import "fmt"

// Driver shifts a 16-bit word out to the register chain and controls the
// output-enable line. The real implementation bit-bangs three GPIO lines;
// the fake records words and models latching behavior for tests.
type Driver interface {
	// Shift clocks the word out MSB-first in two bytes and strobes the
	// latch line to commit it to the outputs.
	Shift(word uint16) error

	// SetOutputEnable releases (true) or locks (false) the register
	// outputs. Outputs must stay locked during boot until the startup
	// sequence completes.
	SetOutputEnable(on bool) error

	// Close releases GPIO resources.
	Close() error
}

// NumChannels is the number of addressable relay channels (1..NumChannels).
const NumChannels = 15

// fanBit is the register bit driving the fan MOSFET by level, not pulse.
const fanBit = 7

// relayBits maps channel 1..15 to its shift-register bit position. Fixed by
// the board wiring.
var relayBits = [NumChannels]uint{14, 2, 1, 3, 5, 6, 4, 11, 10, 0, 12, 13, 13, 8, 6}

// Channel identifies one addressable relay channel. The zero value is not a
// valid channel; construct through NewChannel.
type Channel uint8

// NewChannel validates n against the addressable range.
func NewChannel(n int) (Channel, error) {
	if n < 1 || n > NumChannels {
		return 0, fmt.Errorf("relay channel %d out of range 1-%d", n, NumChannels)
	}
	return Channel(n), nil
}

// Valid reports whether the channel is in the addressable range.
func (c Channel) Valid() bool {
	return c >= 1 && c <= NumChannels
}

// bit returns the register bit position for the channel.
func (c Channel) bit() uint {
	return relayBits[c-1]
}

// Channels returns all valid channels in order, for telemetry iteration.
func Channels() []Channel {
	out := make([]Channel, NumChannels)
	for i := range out {
		out[i] = Channel(i + 1)
	}
	return out
}
