// Package gpio drives local GPIO lines with hardware abstraction: an input
// for the water float switch and an output for the heater relay.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Input reads one digital input line.
type Input interface {
	// Read returns the logical level of the line.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Output drives one digital output line.
type Output interface {
	// Set drives the line to the logical level on.
	Set(on bool) error

	// Close drives the line low and releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinWater  = 17
	DefaultPinHeater = 27
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"
