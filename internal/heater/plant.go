package heater

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/status"
)

// Plant bundles the I/O both drivers work on. Sensor, Interlock, Actuator,
// Regulator and Tracker are required; the rest may be nil.
type Plant struct {
	Sensor    *Sensor
	Interlock *Interlock
	Actuator  Actuator
	Regulator *Regulator
	Tracker   *status.Tracker
	Metrics   Metrics
	Events    EventSink
	Watchdog  *Watchdog

	mu       sync.Mutex
	heaterOn bool
	// known is false until a write succeeded, and again after one failed.
	known bool
}

type reading struct {
	Temp     float64
	PID      logic.PIDOutput
	Power    float64
	HeaterOn bool
}

// Off writes the heater off unconditionally.
func (p *Plant) Off() error {
	return p.drive(false)
}

// SetTarget updates the regulator setpoint and the published target.
func (p *Plant) SetTarget(target float64) {
	p.Regulator.SetTarget(target)
	p.Tracker.SetTarget(target)
	log.Printf("heater: target temperature set to %.2f integral=%.2f", target, p.Regulator.Integral())
}

func (p *Plant) metrics() Metrics {
	if p.Metrics == nil {
		return nopMetrics{}
	}
	return p.Metrics
}

func (p *Plant) beat() {
	if p.Watchdog != nil {
		p.Watchdog.Beat()
	}
}

func (p *Plant) fault(kind status.FaultKind, err error) {
	log.Printf("heater: %s fault: %v", kind, err)
	p.Tracker.RecordFault(kind, err, time.Now())
	p.metrics().IncFault(string(kind))
}

// water samples the interlock and records the result.
func (p *Plant) water(ctx context.Context) bool {
	present, ev, err := p.Interlock.Check(ctx)
	if err != nil {
		p.fault(status.FaultInterlock, err)
	}
	p.Tracker.SetWaterPresent(present, p.Interlock.Counts())
	p.metrics().SetWaterPresent(present)
	if ev != nil {
		log.Printf("interlock: %s", ev.Type)
		if p.Events != nil {
			p.Events.InterlockEvent(*ev)
		}
	}
	return present
}

// measure runs interlock, sensor, regulator and clamp. It returns
// errWaterAbsent without touching the sensor when the interlock is open.
func (p *Plant) measure(ctx context.Context) (reading, error) {
	if !p.water(ctx) {
		return reading{}, errWaterAbsent
	}
	temp, err := p.Sensor.Read()
	if err != nil {
		p.fault(status.FaultSensor, err)
		return reading{}, err
	}
	out := p.Regulator.Next(temp)
	power, on := logic.ClampPower(out.Output)
	p.Tracker.UpdateReading(temp, power)
	p.metrics().ObserveReading(temp, power)
	return reading{Temp: temp, PID: out, Power: power, HeaterOn: on}, nil
}

// drive writes the heater output. A failed write leaves the output state
// unknown until the next successful write.
func (p *Plant) drive(on bool) error {
	err := p.Actuator.Set(on)

	p.mu.Lock()
	p.known = err == nil
	if err == nil {
		p.heaterOn = on
	}
	p.mu.Unlock()

	if err != nil {
		p.fault(status.FaultActuator, err)
		return err
	}
	p.Tracker.SetHeaterOn(on)
	p.metrics().SetHeaterOn(on)
	return nil
}

// ensureOff writes OFF unless the output is known to be off already.
func (p *Plant) ensureOff() error {
	p.mu.Lock()
	off := p.known && !p.heaterOn
	p.mu.Unlock()
	if off {
		return nil
	}
	return p.drive(false)
}

func (p *Plant) cycleDone() {
	p.Tracker.IncCycles()
	p.metrics().IncCycle()
}

// hold waits d in slices of at most poll, beating the watchdog each slice.
// It returns false as soon as keep reports false or ctx is done.
func (p *Plant) hold(ctx context.Context, d, poll time.Duration, keep func() bool) bool {
	deadline := time.Now().Add(d)
	for {
		if ctx.Err() != nil || !keep() {
			return false
		}
		left := time.Until(deadline)
		if left <= 0 {
			return true
		}
		p.beat()
		t := time.NewTimer(min(left, poll))
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// actuate runs one ON/hold/OFF/hold window. keep is polled during both holds;
// water is additionally re-checked during the ON hold. It reports whether the
// window ran to completion.
func (p *Plant) actuate(ctx context.Context, w logic.Window, poll time.Duration, keep func() bool) bool {
	if w.On > 0 {
		if err := p.drive(true); err != nil {
			return false
		}
		onKeep := func() bool { return keep() && p.water(ctx) }
		if !p.hold(ctx, w.On, poll, onKeep) {
			p.drive(false)
			return false
		}
	}
	if err := p.drive(false); err != nil {
		return false
	}
	p.cycleDone()
	return p.hold(ctx, w.Off, poll, keep)
}

func isWaterAbsent(err error) bool {
	return errors.Is(err, errWaterAbsent)
}
