// Package telemetry defines how the daemon reports state to the outside:
// periodic status snapshots, system lifecycle events and interlock events.
// Transports (MQTT, Kafka) implement Publisher.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/sweeney/heater-control/internal/logic"
)

// System event names.
const (
	EventStartup       = "STARTUP"
	EventShutdown      = "SHUTDOWN"
	EventHeartbeat     = "HEARTBEAT"
	EventWatchdogStall = "WATCHDOG_STALL"
	EventReconnected   = "RECONNECTED"
	EventOffline       = "OFFLINE"
)

// Publisher sends telemetry to a transport.
// Errors are reported to the caller but must never stop the control loop.
type Publisher interface {
	// PublishStatus sends a pre-formatted status snapshot.
	PublishStatus(payload []byte) error

	// PublishEvent sends an interlock transition.
	PublishEvent(event logic.Event) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close flushes and disconnects.
	Close() error
}

// ConnectionStatus reports whether a transport connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "WATCHDOG_STALL"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// EventPayload is the message payload for an interlock event.
type EventPayload struct {
	Interlock InterlockPayload `json:"interlock"`
}

// InterlockPayload contains the interlock event details.
type InterlockPayload struct {
	Timestamp    string `json:"timestamp"`
	Event        string `json:"event"`
	WaterPresent bool   `json:"water_present"`
}

// FormatEventPayload creates the JSON payload for an interlock event.
func FormatEventPayload(event logic.Event) ([]byte, error) {
	return json.Marshal(EventPayload{
		Interlock: InterlockPayload{
			Timestamp:    event.Timestamp.UTC().Format(time.RFC3339),
			Event:        string(event.Type),
			WaterPresent: event.WaterPresent,
		},
	})
}

// SystemPayload is the payload for system events that carry no status
// snapshot (LWT, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
