package heater

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/heater-control/internal/status"
)

// DefaultWatchdogTimeout is how long an active loop may stay silent.
const DefaultWatchdogTimeout = 30 * time.Second

// Watchdog detects a control loop that stopped making progress. Loops call
// Beat; the first Beat arms the watchdog and Disarm (on loop exit) clears it.
// A stall is reported once per silence.
type Watchdog struct {
	timeout time.Duration
	tracker *status.Tracker
	metrics Metrics
	onStall func(silence time.Duration)
	now     func() time.Time

	mu       sync.Mutex
	armed    bool
	last     time.Time
	reported bool
}

// NewWatchdog creates a disarmed watchdog. onStall may be nil.
func NewWatchdog(timeout time.Duration, tracker *status.Tracker, metrics Metrics, onStall func(silence time.Duration)) *Watchdog {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Watchdog{
		timeout: timeout,
		tracker: tracker,
		metrics: metrics,
		onStall: onStall,
		now:     time.Now,
	}
}

// Beat records progress.
func (w *Watchdog) Beat() {
	w.mu.Lock()
	w.armed = true
	w.last = w.now()
	w.reported = false
	w.mu.Unlock()
}

// Disarm stops stall detection until the next Beat.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	w.armed = false
	w.mu.Unlock()
}

// Run checks for stalls until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	interval := max(w.timeout/4, 10*time.Millisecond)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.check()
		}
	}
}

// check reports a stall if the loop has been silent for longer than the
// timeout. It returns true when it reported one.
func (w *Watchdog) check() bool {
	w.mu.Lock()
	if !w.armed || w.reported {
		w.mu.Unlock()
		return false
	}
	silence := w.now().Sub(w.last)
	if silence <= w.timeout {
		w.mu.Unlock()
		return false
	}
	w.reported = true
	w.mu.Unlock()

	log.Printf("watchdog: control loop stalled, no progress for %v", silence.Truncate(time.Millisecond))
	w.metrics.IncWatchdogStall()
	if w.tracker != nil {
		w.tracker.RecordFault(status.FaultWatchdog, fmt.Errorf("control loop silent for %v", silence.Truncate(time.Millisecond)), w.now())
	}
	if w.onStall != nil {
		w.onStall(silence)
	}
	return true
}
