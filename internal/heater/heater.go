// Package heater runs the closed control loop for the tank heater.
//
// Every iteration checks the water interlock, reads and scales the tank
// temperature, steps the PID regulator and turns the clamped output into a
// duty-cycle window for the heater output bit. Two drivers exist:
//
//   - Supervisor runs one loop goroutine per enable, at a single rate.
//   - Coordinator runs a fast telemetry tick and a slow actuation tick on
//     one goroutine and persists the control state to a PLC data block.
//
// Both implement Controller, so the host layer does not care which one runs.
package heater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/status"
)

// Controller is the surface the host service layer drives.
// Enable and Disable never fail.
type Controller interface {
	Enable()
	Disable()
	SetTargetTemperature(target float64)
	CurrentStatus() status.Snapshot
}

// Runner is a Controller with an explicit, context-bounded shutdown that
// leaves the heater off.
type Runner interface {
	Controller
	Shutdown(ctx context.Context) error
}

// Config holds loop timing and addressing shared by both drivers.
type Config struct {
	// Period is the duty-cycle period, and the slow tick of the Coordinator.
	Period time.Duration
	// PollInterval bounds how long a disable, a lost interlock or a fault
	// retry waits.
	PollInterval time.Duration
	// FastInterval is the Coordinator's telemetry tick.
	FastInterval time.Duration
	// StatusDB is the data block the Coordinator persists its state to.
	StatusDB int
}

// DefaultConfig returns the commissioned timing: 10 s period, 100 ms poll.
func DefaultConfig() Config {
	return Config{
		Period:       10 * time.Second,
		PollInterval: 100 * time.Millisecond,
		FastInterval: 100 * time.Millisecond,
		StatusDB:     2,
	}
}

// Validate reports timing that the loops cannot run with.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.FastInterval <= 0 {
		return fmt.Errorf("fast interval must be positive, got %v", c.FastInterval)
	}
	if c.Period < c.PollInterval {
		return fmt.Errorf("period %v shorter than poll interval %v", c.Period, c.PollInterval)
	}
	if c.StatusDB <= 0 {
		return fmt.Errorf("status DB must be positive, got %d", c.StatusDB)
	}
	return nil
}

// Metrics receives control-loop observations.
type Metrics interface {
	ObserveReading(temp, power float64)
	SetHeaterOn(on bool)
	SetWaterPresent(present bool)
	IncFault(kind string)
	IncCycle()
	AddDroppedTicks(n int)
	IncWatchdogStall()
}

type nopMetrics struct{}

func (nopMetrics) ObserveReading(float64, float64) {}
func (nopMetrics) SetHeaterOn(bool)                {}
func (nopMetrics) SetWaterPresent(bool)            {}
func (nopMetrics) IncFault(string)                 {}
func (nopMetrics) IncCycle()                       {}
func (nopMetrics) AddDroppedTicks(int)             {}
func (nopMetrics) IncWatchdogStall()               {}

// EventSink receives interlock transitions. It is called from the control
// goroutine and must not block.
type EventSink interface {
	InterlockEvent(ev logic.Event)
}

var errWaterAbsent = errors.New("water absent")
