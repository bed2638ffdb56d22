package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	InstanceID    string        `json:"instance_id,omitempty"`
	Heater        HeaterJSON    `json:"heater"`
	Ready         bool          `json:"ready"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	PLC           PLCStatus     `json:"plc"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Faults        FaultsJSON    `json:"faults"`
	Interlock     InterlockJSON `json:"interlock"`
	Cycles        int           `json:"cycles"`
	DroppedTicks  int           `json:"dropped_ticks"`
	Config        ConfigJSON    `json:"config"`
}

// HeaterJSON is the control state proper.
type HeaterJSON struct {
	Enabled      bool     `json:"enabled"`
	Target       float64  `json:"target_temperature"`
	Temperature  *float64 `json:"current_temperature"`
	Power        float64  `json:"power_percentage"`
	HeaterOn     bool     `json:"heater_on"`
	WaterPresent bool     `json:"water_present"`
}

// PLCStatus reports field-bus connection state.
type PLCStatus struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
	Simulated bool   `json:"simulated,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// FaultsJSON reports fault counters and the most recent fault.
type FaultsJSON struct {
	Sensor    int    `json:"sensor"`
	Interlock int    `json:"interlock"`
	Actuator  int    `json:"actuator"`
	StatusDB  int    `json:"status_db"`
	Watchdog  int    `json:"watchdog"`
	Last      string `json:"last,omitempty"`
	LastKind  string `json:"last_kind,omitempty"`
	LastTime  string `json:"last_time,omitempty"`
}

// InterlockJSON reports interlock trip counters.
type InterlockJSON struct {
	Trips    int `json:"trips"`
	Restores int `json:"restores"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode     string `json:"mode"`
	PeriodMs int64  `json:"period_ms"`
	PollMs   int64  `json:"poll_ms"`
	HTTPAddr string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Heater: HeaterJSON{
			Enabled:      snap.Enabled,
			Target:       snap.Target,
			Power:        snap.Power,
			HeaterOn:     snap.HeaterOn,
			WaterPresent: snap.WaterPresent,
		},
		Ready:         snap.HasReading,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		PLC: PLCStatus{
			Connected: snap.PLCConnected,
			Address:   snap.Config.PLCAddress,
			Simulated: snap.Config.Simulated,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Faults: FaultsJSON{
			Sensor:    snap.Faults.Sensor,
			Interlock: snap.Faults.Interlock,
			Actuator:  snap.Faults.Actuator,
			StatusDB:  snap.Faults.StatusDB,
			Watchdog:  snap.Faults.Watchdog,
			Last:      snap.LastFault,
			LastKind:  string(snap.LastFaultKind),
		},
		Interlock:    InterlockJSON{Trips: snap.Interlock.Trips, Restores: snap.Interlock.Restores},
		Cycles:       snap.Cycles,
		DroppedTicks: snap.DroppedTicks,
		Config: ConfigJSON{
			Mode:     snap.Config.Mode,
			PeriodMs: snap.Config.PeriodMs,
			PollMs:   snap.Config.PollMs,
			HTTPAddr: snap.Config.HTTPAddr,
		},
	}
	if snap.HasReading {
		temp := snap.Temperature
		inner.Heater.Temperature = &temp
	}
	if !snap.LastFaultTime.IsZero() {
		inner.Faults.LastTime = snap.LastFaultTime.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatHeaterJSON returns only the control state, as served by
// /heater/status.
func FormatHeaterJSON(snap Snapshot) []byte {
	data, _ := json.Marshal(buildInner(snap).Heater)
	return data
}

// FormatStatusEvent returns the JSON status for a telemetry event.
func FormatStatusEvent(snap Snapshot, event, reason, instanceID string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	inner.InstanceID = instanceID

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
