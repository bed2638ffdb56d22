package heater

import (
	"sync"

	"github.com/sweeney/heater-control/internal/logic"
)

// Regulator guards a PID with its own mutex so the target can be changed
// from the host layer while a loop is stepping it.
type Regulator struct {
	mu  sync.Mutex
	pid *logic.PID
}

// NewRegulator creates a regulator with an empty integral accumulator.
func NewRegulator(p logic.PIDParams) *Regulator {
	return &Regulator{pid: logic.NewPID(p)}
}

// Next steps the regulator with a new measurement.
func (r *Regulator) Next(measurement float64) logic.PIDOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid.Next(measurement)
}

// SetTarget changes the setpoint. The integral accumulator is kept.
func (r *Regulator) SetTarget(target float64) {
	r.mu.Lock()
	r.pid.SetSetpoint(target)
	r.mu.Unlock()
}

// Target returns the current setpoint.
func (r *Regulator) Target() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid.Setpoint()
}

// Integral returns the accumulated integral term.
func (r *Regulator) Integral() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid.Integral()
}
