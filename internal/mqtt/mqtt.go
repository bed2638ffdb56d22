// Package mqtt publishes heater telemetry to an MQTT broker.
package mqtt

// TopicStatus is the MQTT topic for periodic status snapshots.
const TopicStatus = "heater/control/status"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "heater/control/system"

// TopicEvents is the MQTT topic for interlock events.
const TopicEvents = "heater/control/events"

// DefaultClientID is used when no client id is configured.
const DefaultClientID = "heater-control"

// bufferCapacity bounds how many messages are kept while disconnected.
const bufferCapacity = 256
