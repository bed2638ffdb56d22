package heater

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/plc"
)

func shutdown(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSupervisorRegulates(t *testing.T) {
	r := newRig(t, logic.DefaultPIDParams())
	s := NewSupervisor(r.plant, testConfig(40*time.Millisecond))

	s.Enable()
	waitFor(t, "heater on", r.sawHeaterOn)
	waitFor(t, "two cycles", func() bool { return s.CurrentStatus().Cycles >= 2 })

	snap := s.CurrentStatus()
	if !snap.Enabled || !snap.WaterPresent {
		t.Errorf("status: enabled=%v water=%v", snap.Enabled, snap.WaterPresent)
	}
	if snap.Temperature != 30 {
		t.Errorf("Temperature: got %v, want 30", snap.Temperature)
	}
	// 30 °C against 46 °C with default gains: 17.6 % on the first sample,
	// growing with the integral.
	if snap.Power < 17 || snap.Power > 100 {
		t.Errorf("Power: got %v", snap.Power)
	}

	shutdown(t, s)
	if r.heaterOn() {
		t.Error("heater left on after shutdown")
	}
	if s.Running() != 0 {
		t.Errorf("Running: got %d, want 0", s.Running())
	}
}

func TestSupervisorEnableIsIdempotent(t *testing.T) {
	r := newRig(t, logic.DefaultPIDParams())
	s := NewSupervisor(r.plant, testConfig(40*time.Millisecond))

	s.Enable()
	s.Enable()
	s.Enable()
	waitFor(t, "loop running", func() bool { return s.Running() == 1 })
	time.Sleep(20 * time.Millisecond)

	if got := s.peak.Load(); got != 1 {
		t.Errorf("peak loops: got %d, want 1", got)
	}
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	if gen != 1 {
		t.Errorf("generation: got %d, want 1", gen)
	}
	shutdown(t, s)
}

func TestSupervisorReenableWaitsForPreviousLoop(t *testing.T) {
	r := newRig(t, fullPower())
	s := NewSupervisor(r.plant, testConfig(500*time.Millisecond))

	s.Enable()
	waitFor(t, "heater on", r.heaterOn)

	// Re-enable before the loop has seen the disable.
	s.Disable()
	s.Enable()

	countOn := func() int {
		n := 0
		for _, on := range r.heaterLevels() {
			if on {
				n++
			}
		}
		return n
	}
	waitFor(t, "second loop switching on", func() bool { return countOn() >= 2 })

	if got := s.peak.Load(); got != 1 {
		t.Errorf("peak loops: got %d, want 1", got)
	}
	if got := s.Running(); got != 1 {
		t.Errorf("Running: got %d, want 1", got)
	}

	// The first loop's OFF lands before the second loop's ON.
	levels := r.heaterLevels()
	for i := 1; i < len(levels); i++ {
		if levels[i] && levels[i-1] {
			t.Errorf("two ON writes without an OFF between: %v", levels)
			break
		}
	}
	shutdown(t, s)
}

func TestSupervisorDisableEndsOnHold(t *testing.T) {
	r := newRig(t, fullPower())
	s := NewSupervisor(r.plant, testConfig(5*time.Second))

	s.Enable()
	waitFor(t, "heater on", r.heaterOn)

	start := time.Now()
	s.Disable()
	waitFor(t, "loop exit", func() bool { return s.Running() == 0 })
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("disable took %v", elapsed)
	}
	if r.heaterOn() {
		t.Error("heater still on after disable")
	}
	if s.CurrentStatus().HeaterOn {
		t.Error("status still reports heater on")
	}
	shutdown(t, s)
}

func TestSupervisorWaterAbsentSkipsIteration(t *testing.T) {
	r := newRig(t, fullPower())
	r.link.SetInputBit(0, 0, false)
	writesBefore := r.link.WriteCount()

	s := NewSupervisor(r.plant, testConfig(40*time.Millisecond))
	s.Enable()
	time.Sleep(60 * time.Millisecond)

	if got := r.link.ReadCount(plc.AreaDB); got != 0 {
		t.Errorf("sensor reads with water absent: %d", got)
	}
	if got := r.link.WriteCount(); got != writesBefore {
		t.Errorf("writes with water absent: %d", got-writesBefore)
	}
	if r.link.ReadCount(plc.AreaInput) < 2 {
		t.Error("interlock should keep polling")
	}
	snap := s.CurrentStatus()
	if snap.WaterPresent {
		t.Error("status should report water absent")
	}
	if !snap.Enabled {
		t.Error("water loss must not clear enabled")
	}

	r.link.SetInputBit(0, 0, true)
	waitFor(t, "heater on after water restored", r.heaterOn)
	shutdown(t, s)
}

func TestSupervisorWaterLostDuringOnHold(t *testing.T) {
	r := newRig(t, fullPower())
	s := NewSupervisor(r.plant, testConfig(5*time.Second))

	s.Enable()
	waitFor(t, "heater on", r.heaterOn)

	r.link.SetInputBit(0, 0, false)
	waitFor(t, "heater off", func() bool { return !r.heaterOn() })

	snap := s.CurrentStatus()
	if snap.Interlock.Trips != 1 {
		t.Errorf("trips: got %d, want 1", snap.Interlock.Trips)
	}
	if !snap.Enabled || s.Running() != 1 {
		t.Error("loop should keep running while water is absent")
	}
	shutdown(t, s)
}

func TestSupervisorSensorFault(t *testing.T) {
	r := newRig(t, fullPower())
	broken := plc.NewFakeLink()
	broken.SetReadError(errors.New("CPU : Item not available"))
	r.plant.Sensor = NewSensor(plc.NewBus(broken), sensorDB, 0, logic.DefaultScaler())

	s := NewSupervisor(r.plant, testConfig(40*time.Millisecond))
	s.Enable()
	waitFor(t, "sensor faults", func() bool { return s.CurrentStatus().Faults.Sensor >= 2 })

	if r.sawHeaterOn() {
		t.Error("heater driven without a temperature reading")
	}
	snap := s.CurrentStatus()
	if snap.LastFaultKind != "sensor" || snap.LastFault == "" {
		t.Errorf("last fault: %q (%s)", snap.LastFault, snap.LastFaultKind)
	}
	if snap.HasReading {
		t.Error("HasReading should stay false")
	}
	shutdown(t, s)
}

func TestSupervisorReassertsOffAfterFailedWrite(t *testing.T) {
	r := newRig(t, fullPower())
	act := &recordingActuator{inner: r.plant.Actuator, failNextOn: true}
	r.plant.Actuator = act

	s := NewSupervisor(r.plant, testConfig(20*time.Millisecond))
	s.Enable()
	waitFor(t, "heater on", r.heaterOn)
	shutdown(t, s)

	calls, fails := act.snapshot()
	if len(calls) < 3 || !calls[0] || !fails[0] {
		t.Fatalf("expected a failed ON first, got calls=%v fails=%v", calls, fails)
	}
	if calls[1] {
		t.Errorf("write after the failed ON should be OFF, got calls=%v", calls)
	}
	if s.CurrentStatus().Faults.Actuator != 1 {
		t.Errorf("actuator faults: got %d, want 1", s.CurrentStatus().Faults.Actuator)
	}
}

func TestSupervisorShutdown(t *testing.T) {
	r := newRig(t, fullPower())
	s := NewSupervisor(r.plant, testConfig(5*time.Second))

	s.Enable()
	waitFor(t, "heater on", r.heaterOn)

	start := time.Now()
	shutdown(t, s)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}
	if r.heaterOn() {
		t.Error("heater on after shutdown")
	}

	s.Enable()
	time.Sleep(10 * time.Millisecond)
	if s.Running() != 0 {
		t.Error("enable after shutdown started a loop")
	}
}

func TestSupervisorShutdownWithoutEnable(t *testing.T) {
	r := newRig(t, logic.DefaultPIDParams())
	s := NewSupervisor(r.plant, testConfig(40*time.Millisecond))
	shutdown(t, s)
	if r.heaterOn() {
		t.Error("heater on")
	}
}

func TestSupervisorSetTargetKeepsIntegral(t *testing.T) {
	r := newRig(t, logic.DefaultPIDParams())
	s := NewSupervisor(r.plant, testConfig(40*time.Millisecond))

	r.plant.Regulator.Next(30)
	r.plant.Regulator.Next(30)
	before := r.plant.Regulator.Integral()

	s.SetTargetTemperature(50)

	if got := r.plant.Regulator.Target(); got != 50 {
		t.Errorf("regulator target: got %v, want 50", got)
	}
	if got := s.CurrentStatus().Target; got != 50 {
		t.Errorf("status target: got %v, want 50", got)
	}
	if got := r.plant.Regulator.Integral(); got != before {
		t.Errorf("integral: got %v, want %v", got, before)
	}
}

func TestSupervisorPublishedEnabledMatchesIntent(t *testing.T) {
	r := newRig(t, logic.DefaultPIDParams())
	s := NewSupervisor(r.plant, testConfig(40*time.Millisecond))
	defer shutdown(t, s)

	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); s.Disable() }()
		go func() { defer wg.Done(); s.Enable() }()
		wg.Wait()

		s.mu.Lock()
		intent := s.enabled
		s.mu.Unlock()
		if got := s.CurrentStatus().Enabled; got != intent {
			t.Fatalf("round %d: published enabled=%v, intent %v", i, got, intent)
		}
	}
}
