package heater

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/heater-control/internal/gpio"
	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/plc"
)

func TestSensorRead(t *testing.T) {
	link := plc.NewFakeLink()
	link.SetWord(1, 0, 27648)
	s := NewSensor(plc.NewBus(link), 1, 0, logic.DefaultScaler())

	got, err := s.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 100 {
		t.Errorf("got %v, want 100", got)
	}

	link.FailReads(1)
	if _, err := s.Read(); !plc.IsConnectionFault(err) {
		t.Errorf("expected wrapped connection fault, got %v", err)
	}
}

func waterPresent(ctx context.Context, il *Interlock) bool {
	present, _, _ := il.Check(ctx)
	return present
}

func TestInterlockFailsSafe(t *testing.T) {
	in := gpio.NewFakeInput(true)
	il := NewInterlock(GPIOWater{In: in}, 0)
	ctx := context.Background()

	if !waterPresent(ctx, il) {
		t.Fatal("expected water present")
	}

	in.ReadError = errors.New("line released")
	present, ev, err := il.Check(ctx)
	if present || err == nil {
		t.Errorf("fault: got present=%v err=%v", present, err)
	}
	if ev == nil || ev.Type != logic.EventWaterLost {
		t.Errorf("fault should trip the interlock, got %v", ev)
	}
	if waterPresent(ctx, il) {
		t.Error("water should read absent on fault")
	}
	if il.Counts().Trips != 1 {
		t.Errorf("trips: got %d", il.Counts().Trips)
	}
}

func TestInterlockRestoreDelay(t *testing.T) {
	in := gpio.NewFakeInput(true)
	il := NewInterlock(GPIOWater{In: in}, 250*time.Millisecond)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	il.now = func() time.Time { return now }
	ctx := context.Background()

	if waterPresent(ctx, il) {
		t.Error("present before the restore delay elapsed")
	}
	now = now.Add(300 * time.Millisecond)
	if !waterPresent(ctx, il) {
		t.Error("expected present after the restore delay")
	}

	in.Set(false)
	if waterPresent(ctx, il) {
		t.Error("loss must be reported immediately")
	}
}

func TestInterlockCancelledContext(t *testing.T) {
	in := gpio.NewFakeInput(true)
	il := NewInterlock(GPIOWater{In: in}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if waterPresent(ctx, il) {
		t.Error("cancelled context should report absent")
	}
}

func TestBusWater(t *testing.T) {
	link := plc.NewFakeLink()
	w := BusWater{Bus: plc.NewBus(link), Area: plc.AreaInput, Byte: 1, Bit: 3}

	if v, _ := w.Water(); v {
		t.Error("expected false")
	}
	link.SetInputBit(1, 3, true)
	if v, _ := w.Water(); !v {
		t.Error("expected true")
	}
}

func TestBusActuatorPreservesOtherBits(t *testing.T) {
	link := plc.NewFakeLink()
	link.SetOutputByte(0, 0b1000_0001)
	a := BusActuator{Bus: plc.NewBus(link), Area: plc.AreaOutput, Byte: 0, Bit: 1}

	if err := a.Set(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := link.OutputByte(0); got != 0b1000_0011 {
		t.Errorf("got %08b", got)
	}
	a.Set(false)
	if got := link.OutputByte(0); got != 0b1000_0001 {
		t.Errorf("got %08b", got)
	}

	link.FailWrites(1)
	if err := a.Set(true); !plc.IsConnectionFault(err) {
		t.Errorf("expected connection fault, got %v", err)
	}
}

func TestGPIOActuator(t *testing.T) {
	out := &gpio.FakeOutput{}
	a := GPIOActuator{Out: out}
	a.Set(true)
	if !out.Level() {
		t.Error("expected relay on")
	}
	out.SetError = errors.New("ebusy")
	if err := a.Set(false); err == nil {
		t.Error("expected error")
	}
}

type recordingSink struct {
	events []logic.Event
}

func (s *recordingSink) InterlockEvent(ev logic.Event) { s.events = append(s.events, ev) }

func TestPlantPublishesInterlockEvents(t *testing.T) {
	r := newRig(t, logic.DefaultPIDParams())
	sink := &recordingSink{}
	r.plant.Events = sink
	ctx := context.Background()

	r.plant.water(ctx)
	r.link.SetInputBit(0, 0, false)
	r.plant.water(ctx)
	r.link.SetInputBit(0, 0, true)
	r.plant.water(ctx)

	if len(sink.events) != 2 {
		t.Fatalf("events: got %v", sink.events)
	}
	if sink.events[0].Type != logic.EventWaterLost || sink.events[1].Type != logic.EventWaterRestored {
		t.Errorf("events: %v", sink.events)
	}
	snap := r.tracker.Snapshot()
	if snap.Interlock.Trips != 1 || snap.Interlock.Restores != 1 || !snap.WaterPresent {
		t.Errorf("status: %+v water=%v", snap.Interlock, snap.WaterPresent)
	}
}

func TestPlantHoldHonoursKeep(t *testing.T) {
	r := newRig(t, logic.DefaultPIDParams())
	stop := time.Now().Add(20 * time.Millisecond)

	start := time.Now()
	done := r.plant.hold(context.Background(), 5*time.Second, 5*time.Millisecond, func() bool {
		return time.Now().Before(stop)
	})
	if done {
		t.Error("hold should report interruption")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("hold ran %v", elapsed)
	}

	if !r.plant.hold(context.Background(), 10*time.Millisecond, 5*time.Millisecond, func() bool { return true }) {
		t.Error("hold should complete")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
	bad := DefaultConfig()
	bad.Period = time.Millisecond
	if bad.Validate() == nil {
		t.Error("expected error for period below poll interval")
	}
	bad = DefaultConfig()
	bad.PollInterval = 0
	if bad.Validate() == nil {
		t.Error("expected error for zero poll interval")
	}
}
