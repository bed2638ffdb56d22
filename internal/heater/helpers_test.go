package heater

import (
	"sync"
	"testing"
	"time"

	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/plc"
	"github.com/sweeney/heater-control/internal/status"
)

var (
	_ Runner = (*Supervisor)(nil)
	_ Runner = (*Coordinator)(nil)
)

const (
	sensorDB  = 1
	heaterBit = 1
	raw30C    = 13824 // 30 °C with the default calibration
)

type rig struct {
	link    *plc.FakeLink
	bus     *plc.Bus
	plant   *Plant
	tracker *status.Tracker
}

// newRig builds a plant on a fake PLC with water present and the tank at
// 30 °C. The heater output has been written off once.
func newRig(t *testing.T, params logic.PIDParams) *rig {
	t.Helper()
	link := plc.NewFakeLink()
	link.SetInputBit(0, 0, true)
	link.SetWord(sensorDB, 0, raw30C)
	bus := plc.NewBus(link)
	tr := status.NewTracker(time.Now(), params.Setpoint, status.Config{})

	p := &Plant{
		Sensor:    NewSensor(bus, sensorDB, 0, logic.DefaultScaler()),
		Interlock: NewInterlock(BusWater{Bus: bus, Area: plc.AreaInput, Byte: 0, Bit: 0}, 0),
		Actuator:  BusActuator{Bus: bus, Area: plc.AreaOutput, Byte: 0, Bit: heaterBit},
		Regulator: NewRegulator(params),
		Tracker:   tr,
	}
	if err := p.Off(); err != nil {
		t.Fatalf("initial off: %v", err)
	}
	return &rig{link: link, bus: bus, plant: p, tracker: tr}
}

// fullPower returns gains that saturate at 100 % for a tank at 30 °C.
func fullPower() logic.PIDParams {
	p := logic.DefaultPIDParams()
	p.Kp = 10
	return p
}

func testConfig(period time.Duration) Config {
	return Config{
		Period:       period,
		PollInterval: 5 * time.Millisecond,
		FastInterval: 5 * time.Millisecond,
		StatusDB:     2,
	}
}

// heaterLevels returns every level written to the heater bit, in order.
func (r *rig) heaterLevels() []bool {
	var out []bool
	for _, w := range r.link.WritesSnapshot() {
		if w.Area == plc.AreaOutput && w.Offset == 0 {
			out = append(out, w.Data[0]>>heaterBit&1 == 1)
		}
	}
	return out
}

func (r *rig) heaterOn() bool {
	return r.link.OutputBit(0, heaterBit)
}

func (r *rig) sawHeaterOn() bool {
	for _, on := range r.heaterLevels() {
		if on {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// recordingActuator records every call and can fail selected ones.
type recordingActuator struct {
	inner Actuator

	mu    sync.Mutex
	calls []bool
	fails []bool
	// failNextOn fails the next ON write.
	failNextOn bool
}

func (a *recordingActuator) Set(on bool) error {
	a.mu.Lock()
	fail := on && a.failNextOn
	if fail {
		a.failNextOn = false
	}
	a.calls = append(a.calls, on)
	a.fails = append(a.fails, fail)
	a.mu.Unlock()
	if fail {
		return plc.ErrConnection
	}
	return a.inner.Set(on)
}

func (a *recordingActuator) snapshot() ([]bool, []bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]bool(nil), a.calls...), append([]bool(nil), a.fails...)
}
