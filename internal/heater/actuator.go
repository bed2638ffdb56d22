package heater

import (
	"fmt"

	"github.com/sweeney/heater-control/internal/gpio"
	"github.com/sweeney/heater-control/internal/plc"
)

// Actuator switches the heater.
type Actuator interface {
	Set(on bool) error
}

// BusActuator drives one output bit with a read-modify-write of its byte,
// by default Q0.1.
type BusActuator struct {
	Bus  *plc.Bus
	Area plc.Area
	Byte int
	Bit  int
}

func (a BusActuator) Set(on bool) error {
	if err := a.Bus.SetBit(a.Area, a.Byte, a.Bit, on); err != nil {
		return fmt.Errorf("set heater %s%d.%d: %w", a.Area, a.Byte, a.Bit, err)
	}
	return nil
}

// GPIOActuator drives a local relay.
type GPIOActuator struct {
	Out gpio.Output
}

func (a GPIOActuator) Set(on bool) error {
	if err := a.Out.Set(on); err != nil {
		return fmt.Errorf("set heater relay: %w", err)
	}
	return nil
}
