// Package logic contains the pure control math for the heater: sensor scaling,
// PID regulation, duty-cycle scheduling and interlock debouncing.
// This package has NO external dependencies (no PLC, GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the logical state of the heater output.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf converts a boolean output level into a State.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// EventType represents an interlock transition event.
type EventType string

const (
	EventWaterLost     EventType = "WATER_LOST"
	EventWaterRestored EventType = "WATER_RESTORED"
)

// Event represents an interlock transition to be published.
type Event struct {
	Timestamp    time.Time
	Type         EventType
	WaterPresent bool
}

// InterlockCounts tracks the number of interlock transitions since startup.
type InterlockCounts struct {
	Trips    int
	Restores int
}
