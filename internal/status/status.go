// Package status provides a thread-safe store for the heater control state.
// It is written by the control loop and read by HTTP handlers and telemetry.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/heater-control/internal/logic"
)

// FaultKind names the component a fault was observed in.
type FaultKind string

const (
	FaultSensor    FaultKind = "sensor"
	FaultInterlock FaultKind = "interlock"
	FaultActuator  FaultKind = "actuator"
	FaultStatusDB  FaultKind = "status_db"
	FaultWatchdog  FaultKind = "watchdog"
)

// FaultCounts counts faults per kind.
type FaultCounts struct {
	Sensor    int
	Interlock int
	Actuator  int
	StatusDB  int
	Watchdog  int
}

// Add increments the counter for kind. Unknown kinds are ignored.
func (c *FaultCounts) Add(kind FaultKind) {
	switch kind {
	case FaultSensor:
		c.Sensor++
	case FaultInterlock:
		c.Interlock++
	case FaultActuator:
		c.Actuator++
	case FaultStatusDB:
		c.StatusDB++
	case FaultWatchdog:
		c.Watchdog++
	}
}

// Total returns the sum of all counters.
func (c FaultCounts) Total() int {
	return c.Sensor + c.Interlock + c.Actuator + c.StatusDB + c.Watchdog
}

// Config contains daemon configuration for display.
type Config struct {
	Mode       string
	PLCAddress string
	PeriodMs   int64
	PollMs     int64
	Broker     string
	HTTPAddr   string
	Simulated  bool
}

// Snapshot is a point-in-time view of the control state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Enabled      bool
	Target       float64
	Temperature  float64
	Power        float64
	HeaterOn     bool
	WaterPresent bool
	// HasReading is false until the first successful sensor read.
	HasReading bool

	LastFault     string
	LastFaultKind FaultKind
	LastFaultTime time.Time
	Faults        FaultCounts
	Interlock     logic.InterlockCounts
	Cycles        int
	DroppedTicks  int

	PLCConnected  bool
	MQTTConnected bool

	StartTime time.Time
	Now       time.Time
	Config    Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable control state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time, initial target
// and display config.
func NewTracker(startTime time.Time, target float64, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Target:    target,
			Config:    cfg,
		},
	}
}

// SetEnabled records the operator's enable intent.
func (t *Tracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.snap.Enabled = enabled
	t.mu.Unlock()
}

// SetTarget records the target temperature.
func (t *Tracker) SetTarget(target float64) {
	t.mu.Lock()
	t.snap.Target = target
	t.mu.Unlock()
}

// UpdateReading records a temperature and the power computed from it.
// Power is clamped to [0,100].
func (t *Tracker) UpdateReading(temp, power float64) {
	power, _ = logic.ClampPower(power)
	t.mu.Lock()
	t.snap.Temperature = temp
	t.snap.Power = power
	t.snap.HasReading = true
	t.mu.Unlock()
}

// SetHeaterOn records the last state written to the heater output.
func (t *Tracker) SetHeaterOn(on bool) {
	t.mu.Lock()
	t.snap.HeaterOn = on
	t.mu.Unlock()
}

// SetWaterPresent records the filtered interlock state and its counters.
func (t *Tracker) SetWaterPresent(present bool, counts logic.InterlockCounts) {
	t.mu.Lock()
	t.snap.WaterPresent = present
	t.snap.Interlock = counts
	t.mu.Unlock()
}

// RecordFault stores err as the last fault and counts it under kind.
func (t *Tracker) RecordFault(kind FaultKind, err error, at time.Time) {
	t.mu.Lock()
	t.snap.LastFault = err.Error()
	t.snap.LastFaultKind = kind
	t.snap.LastFaultTime = at
	t.snap.Faults.Add(kind)
	t.mu.Unlock()
}

// IncCycles counts one completed duty cycle.
func (t *Tracker) IncCycles() {
	t.mu.Lock()
	t.snap.Cycles++
	t.mu.Unlock()
}

// AddDroppedTicks counts fast ticks that were not serviced.
func (t *Tracker) AddDroppedTicks(n int) {
	t.mu.Lock()
	t.snap.DroppedTicks += n
	t.mu.Unlock()
}

// SetPLCConnected sets the field-bus connection status.
func (t *Tracker) SetPLCConnected(connected bool) {
	t.mu.Lock()
	t.snap.PLCConnected = connected
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the control state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
