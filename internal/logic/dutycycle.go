package logic

import (
	"math"
	"time"
)

// Window is one time-proportioned actuation cycle.
// On + Off always equals Period.
type Window struct {
	Period time.Duration
	On     time.Duration
	Off    time.Duration
}

// ClampPower bounds a regulator output to a power percentage in [0,100].
// heaterOn is false when the clamped power is zero, including every negative
// or NaN input.
func ClampPower(power float64) (clamped float64, heaterOn bool) {
	if math.IsNaN(power) || power < 0 {
		return 0, false
	}
	if power > 100 {
		return 100, true
	}
	return power, power > 0
}

// Compute splits period into ON and OFF durations for the given power.
// The ON time is truncated to whole milliseconds. Nothing is carried over
// between cycles.
func Compute(power float64, period time.Duration) Window {
	if period < 0 {
		period = 0
	}
	p, _ := ClampPower(power)

	on := time.Duration(float64(period.Milliseconds())*p/100) * time.Millisecond
	if p == 100 {
		on = period
	}
	on = min(on, period)

	return Window{
		Period: period,
		On:     on,
		Off:    period - on,
	}
}
