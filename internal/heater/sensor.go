package heater

import (
	"fmt"

	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/plc"
)

// Sensor reads the tank temperature as a raw 16-bit word from a data block.
type Sensor struct {
	bus    *plc.Bus
	block  int
	offset int
	scaler logic.Scaler
}

// NewSensor reads DB<block>.DBW<offset> through bus.
func NewSensor(bus *plc.Bus, block, offset int, scaler logic.Scaler) *Sensor {
	return &Sensor{bus: bus, block: block, offset: offset, scaler: scaler}
}

// Read returns the scaled temperature in °C.
func (s *Sensor) Read() (float64, error) {
	b, err := s.bus.ReadBlock(s.block, s.offset, 2)
	if err != nil {
		return 0, fmt.Errorf("read sensor: %w", err)
	}
	raw, err := logic.RawWord(b)
	if err != nil {
		return 0, fmt.Errorf("read sensor: %w", err)
	}
	return s.scaler.Scale(raw), nil
}
