package heater

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/status"
)

// Supervisor owns the single-rate control loop. Each Enable that finds the
// heater disabled starts a new generation; a loop keeps running only while
// its generation is current and the heater is enabled.
type Supervisor struct {
	plant *Plant
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	enabled bool
	closed  bool
	gen     uint64
	done    chan struct{} // closed when the latest loop has exited

	running atomic.Int32
	peak    atomic.Int32
}

// NewSupervisor creates a disabled supervisor.
func NewSupervisor(p *Plant, cfg Config) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{plant: p, cfg: cfg, ctx: ctx, cancel: cancel}
}

// Enable starts regulation. Calling it while enabled does nothing. If the
// previous loop is still winding down, the new one waits for it to exit.
func (s *Supervisor) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		log.Printf("heater: enable ignored after shutdown")
		return
	}
	s.plant.Tracker.SetEnabled(true)
	if s.enabled {
		return
	}
	s.enabled = true
	s.gen++

	prev := s.done
	done := make(chan struct{})
	s.done = done
	go s.run(s.gen, prev, done)
}

// Disable stops regulation. The loop notices within one poll interval,
// switches the heater off and exits. The published enabled flag is written
// under mu, like the intent itself.
func (s *Supervisor) Disable() {
	s.mu.Lock()
	s.enabled = false
	s.plant.Tracker.SetEnabled(false)
	s.mu.Unlock()
}

// SetTargetTemperature changes the setpoint without resetting the regulator.
func (s *Supervisor) SetTargetTemperature(target float64) {
	s.plant.SetTarget(target)
}

// CurrentStatus returns a snapshot of the control state.
func (s *Supervisor) CurrentStatus() status.Snapshot {
	return s.plant.Tracker.Snapshot()
}

// Running returns the number of live loop goroutines.
func (s *Supervisor) Running() int {
	return int(s.running.Load())
}

// Shutdown disables, interrupts any hold, waits for the loop to exit and
// then forces the heater off. If ctx expires first the heater is still
// forced off and ctx.Err() is returned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.enabled = false
	done := s.done
	s.plant.Tracker.SetEnabled(false)
	s.mu.Unlock()
	s.cancel()

	var joinErr error
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			joinErr = fmt.Errorf("join control loop: %w", ctx.Err())
		}
	}
	if err := s.plant.Off(); err != nil {
		return errors.Join(joinErr, fmt.Errorf("force heater off: %w", err))
	}
	return joinErr
}

func (s *Supervisor) owns(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && s.gen == gen && s.ctx.Err() == nil
}

func (s *Supervisor) run(gen uint64, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		old := s.peak.Load()
		if n <= old || s.peak.CompareAndSwap(old, n) {
			break
		}
	}

	log.Printf("heater: control loop started gen=%d period=%v", gen, s.cfg.Period)
	owner := func() bool { return s.owns(gen) }
	for owner() {
		s.iterate(owner)
	}

	if err := s.plant.Off(); err != nil {
		log.Printf("heater: switch off on loop exit: %v", err)
	}
	if s.plant.Watchdog != nil {
		s.plant.Watchdog.Disarm()
	}
	log.Printf("heater: control loop stopped gen=%d", gen)
}

// iterate runs one pass of the loop body.
func (s *Supervisor) iterate(owner func() bool) {
	p := s.plant
	ctx := s.ctx
	p.beat()

	p.mu.Lock()
	known := p.known
	p.mu.Unlock()
	if !known {
		log.Printf("heater: output state unknown, re-asserting off")
		if err := p.drive(false); err != nil {
			p.hold(ctx, s.cfg.PollInterval, s.cfg.PollInterval, owner)
			return
		}
	}

	r, err := p.measure(ctx)
	if err != nil {
		if isWaterAbsent(err) {
			p.ensureOff()
		}
		p.hold(ctx, s.cfg.PollInterval, s.cfg.PollInterval, owner)
		return
	}

	w := logic.Compute(r.Power, s.cfg.Period)
	if !p.actuate(ctx, w, s.cfg.PollInterval, owner) && owner() {
		// Interlock tripped or a write failed mid-window.
		p.hold(ctx, s.cfg.PollInterval, s.cfg.PollInterval, owner)
	}
}
