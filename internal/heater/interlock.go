package heater

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/heater-control/internal/gpio"
	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/plc"
)

// WaterSource reads the raw water-presence signal.
type WaterSource interface {
	Water() (bool, error)
}

// BusWater reads the signal from one PLC bit, by default I0.0.
type BusWater struct {
	Bus   *plc.Bus
	Area  plc.Area
	Block int // only for plc.AreaDB
	Byte  int
	Bit   int
}

func (w BusWater) Water() (bool, error) {
	return w.Bus.ReadBit(w.Area, w.Block, w.Byte, w.Bit)
}

// GPIOWater reads the signal from a local float switch.
type GPIOWater struct {
	In gpio.Input
}

func (w GPIOWater) Water() (bool, error) {
	return w.In.Read()
}

// Interlock gates actuation on water being present. It fails safe: a read
// fault counts as no water.
type Interlock struct {
	src WaterSource
	now func() time.Time

	mu     sync.Mutex
	filter *logic.InterlockFilter
}

// NewInterlock debounces src: loss is reported at once, restoration only
// after the signal has been present for restoreDelay.
func NewInterlock(src WaterSource, restoreDelay time.Duration) *Interlock {
	return &Interlock{
		src:    src,
		now:    time.Now,
		filter: logic.NewInterlockFilter(restoreDelay),
	}
}

// Check samples the signal through the debounce filter. A read fault is
// returned alongside present=false. ev is non-nil on a transition.
func (il *Interlock) Check(ctx context.Context) (present bool, ev *logic.Event, err error) {
	if ctx.Err() != nil {
		return false, nil, nil
	}
	raw, err := il.src.Water()
	if err != nil {
		raw = false
	}

	il.mu.Lock()
	present, ev = il.filter.Process(raw, il.now())
	il.mu.Unlock()
	return present, ev, err
}

// Counts returns the trip and restore counters.
func (il *Interlock) Counts() logic.InterlockCounts {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.filter.Counts()
}
