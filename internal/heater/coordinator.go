package heater

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/plc"
	"github.com/sweeney/heater-control/internal/status"
)

// Coordinator is the dual-rate driver. One goroutine serves two tickers:
//
//   - fast (FastInterval): interlock, sensor, regulator, then persist the
//     control state as a plc.StatusRecord at offset 0 of StatusDB.
//   - slow (Period): read the power back from StatusDB and run one
//     ON/hold/OFF/hold window, unless disabled or the interlock is open.
//
// While a slow tick is actuating, fast ticks are not served and the ticker
// drops them. The effective slow period is therefore Period plus the time
// spent in the tick. Dropped fast ticks are counted.
//
// A Coordinator cannot be restarted after Stop.
type Coordinator struct {
	plant *Plant
	bus   *plc.Bus
	cfg   Config

	mu      sync.Mutex
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}

	dropped atomic.Int64
}

// NewCoordinator creates a stopped, disabled coordinator. bus is used for
// the status data block.
func NewCoordinator(p *Plant, bus *plc.Bus, cfg Config) *Coordinator {
	return &Coordinator{plant: p, bus: bus, cfg: cfg}
}

// Start launches the coordinator goroutine. It runs until ctx is cancelled
// or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return errors.New("heater: coordinator already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Stop cancels the coordinator and waits for it to switch the heater off
// and exit.
func (c *Coordinator) Stop() {
	c.Shutdown(context.Background())
}

// Shutdown is Stop bounded by ctx. The heater is forced off either way.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.enabled = false
	cancel, done := c.cancel, c.done
	c.plant.Tracker.SetEnabled(false)
	c.mu.Unlock()

	var joinErr error
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			joinErr = fmt.Errorf("join coordinator: %w", ctx.Err())
		}
	}
	if err := c.plant.Off(); err != nil {
		return errors.Join(joinErr, fmt.Errorf("force heater off: %w", err))
	}
	return joinErr
}

// Enable allows the slow tick to actuate.
func (c *Coordinator) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.plant.Tracker.SetEnabled(true)
	c.mu.Unlock()
}

// Disable stops actuation. A running ON hold ends within one poll interval.
func (c *Coordinator) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.plant.Tracker.SetEnabled(false)
	c.mu.Unlock()
}

// SetTargetTemperature changes the setpoint without resetting the regulator.
func (c *Coordinator) SetTargetTemperature(target float64) {
	c.plant.SetTarget(target)
}

// CurrentStatus returns a snapshot of the control state.
func (c *Coordinator) CurrentStatus() status.Snapshot {
	return c.plant.Tracker.Snapshot()
}

// DroppedTicks returns the number of fast ticks that were not served.
func (c *Coordinator) DroppedTicks() int64 {
	return c.dropped.Load()
}

func (c *Coordinator) isEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	fast := time.NewTicker(c.cfg.FastInterval)
	defer fast.Stop()
	slow := time.NewTicker(c.cfg.Period)
	defer slow.Stop()

	log.Printf("heater: coordinator started fast=%v slow=%v status_db=%d", c.cfg.FastInterval, c.cfg.Period, c.cfg.StatusDB)

	var lastFast time.Time
	for {
		select {
		case <-ctx.Done():
			if err := c.plant.Off(); err != nil {
				log.Printf("heater: switch off on coordinator exit: %v", err)
			}
			if c.plant.Watchdog != nil {
				c.plant.Watchdog.Disarm()
			}
			log.Printf("heater: coordinator stopped dropped_ticks=%d", c.dropped.Load())
			return

		case t := <-fast.C:
			if !lastFast.IsZero() {
				c.countDropped(t.Sub(lastFast))
			}
			lastFast = t
			c.fastTick(ctx)

		case <-slow.C:
			c.slowTick(ctx)
		}
	}
}

// countDropped infers missed fast ticks from the gap between two served ones.
func (c *Coordinator) countDropped(gap time.Duration) {
	n := int((gap+c.cfg.FastInterval/2)/c.cfg.FastInterval) - 1
	if n <= 0 {
		return
	}
	c.dropped.Add(int64(n))
	c.plant.Tracker.AddDroppedTicks(n)
	c.plant.metrics().AddDroppedTicks(n)
}

func (c *Coordinator) fastTick(ctx context.Context) {
	p := c.plant
	p.beat()

	_, err := p.measure(ctx)
	if isWaterAbsent(err) {
		p.ensureOff()
	}
	c.persist()
}

// persist writes the current control state to the status data block.
func (c *Coordinator) persist() {
	snap := c.plant.Tracker.Snapshot()
	rec := plc.StatusRecord{
		Temperature:  snap.Temperature,
		Power:        snap.Power,
		Target:       c.plant.Regulator.Target(),
		Enabled:      c.isEnabled(),
		HeaterOn:     snap.HeaterOn,
		WaterPresent: snap.WaterPresent,
	}
	if err := c.bus.WriteBlock(c.cfg.StatusDB, 0, rec.Encode()); err != nil {
		c.plant.fault(status.FaultStatusDB, fmt.Errorf("persist status: %w", err))
	}
}

func (c *Coordinator) slowTick(ctx context.Context) {
	p := c.plant
	p.beat()

	if !c.isEnabled() || !p.water(ctx) {
		p.ensureOff()
		return
	}

	b, err := c.bus.ReadBlock(c.cfg.StatusDB, plc.PowerOffset, 4)
	if err != nil {
		p.fault(status.FaultStatusDB, fmt.Errorf("read back power: %w", err))
		p.ensureOff()
		return
	}
	power, _ := logic.ClampPower(plc.DecodePower(b))

	w := logic.Compute(power, c.cfg.Period)
	p.actuate(ctx, w, c.cfg.PollInterval, c.isEnabled)
}
