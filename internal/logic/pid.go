package logic

// PIDParams holds the regulator gains, the per-term output limits and the
// setpoint. Each limit bounds its own term to [-limit, limit].
type PIDParams struct {
	Kp       float64
	PLimit   float64
	Ki       float64
	ILimit   float64
	Kd       float64
	DLimit   float64
	Setpoint float64
}

// DefaultPIDParams returns the gains the tank heater was commissioned with.
func DefaultPIDParams() PIDParams {
	return PIDParams{
		Kp:       1.0,
		PLimit:   100.0,
		Ki:       0.1,
		ILimit:   100.0,
		Kd:       0.01,
		DLimit:   100.0,
		Setpoint: 46.0,
	}
}

// PIDOutput is the result of one regulator step.
type PIDOutput struct {
	P float64
	I float64
	D float64
	// Output is P+I+D. It is not clamped; the duty-cycle stage does that.
	Output float64
}

// PID is a positional PID regulator with per-term anti-windup.
// Not safe for concurrent use; it must be stepped at a fixed sample interval
// because the derivative term is a plain difference between samples.
type PID struct {
	params   PIDParams
	integral float64
	prev     float64
	hasPrev  bool
}

// NewPID creates a regulator with an empty integral accumulator.
func NewPID(p PIDParams) *PID {
	return &PID{params: p}
}

// Next advances the regulator with a new measurement.
func (c *PID) Next(measurement float64) PIDOutput {
	e := c.params.Setpoint - measurement

	p := clampAbs(c.params.Kp*e, c.params.PLimit)

	// The stored term is clamped, not just the contribution, so the
	// accumulator cannot wind up past its limit.
	c.integral = clampAbs(c.integral+c.params.Ki*e, c.params.ILimit)

	var d float64
	if c.hasPrev {
		d = clampAbs(-c.params.Kd*(measurement-c.prev), c.params.DLimit)
	}
	c.prev = measurement
	c.hasPrev = true

	return PIDOutput{
		P:      p,
		I:      c.integral,
		D:      d,
		Output: p + c.integral + d,
	}
}

// SetSetpoint changes the target without touching the integral accumulator.
func (c *PID) SetSetpoint(sp float64) {
	c.params.Setpoint = sp
}

// Setpoint returns the current target.
func (c *PID) Setpoint() float64 {
	return c.params.Setpoint
}

// Params returns a copy of the current parameters.
func (c *PID) Params() PIDParams {
	return c.params
}

// Integral returns the accumulated integral term.
func (c *PID) Integral() float64 {
	return c.integral
}

// Reset clears the accumulator and the previous measurement.
func (c *PID) Reset() {
	c.integral = 0
	c.prev = 0
	c.hasPrev = false
}

func clampAbs(v, limit float64) float64 {
	if limit < 0 {
		limit = -limit
	}
	return max(-limit, min(limit, v))
}
