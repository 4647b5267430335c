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
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	State         string     `json:"state"`
	Mode          string     `json:"mode"`
	HeaterOn      bool       `json:"heater_on"`
	Temperature   *float64   `json:"temperature,omitempty"`
	Setpoint      float64    `json:"setpoint"`
	Safety        SafetyJSON `json:"safety"`
	Timer         TimerJSON  `json:"timer"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Events        EventsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// SafetyJSON reports the safety monitor state.
type SafetyJSON struct {
	Status string `json:"status"`
	Active bool   `json:"active"`
}

// TimerJSON reports the countdown state.
type TimerJSON struct {
	Running       bool  `json:"running"`
	RemainingSecs int64 `json:"remaining_secs"`
}

// EventsJSON is the JSON representation of event bus counters.
type EventsJSON struct {
	Processed int `json:"processed"`
	Dropped   int `json:"dropped"`
	Errors    int `json:"errors"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SensorPollMs  int64  `json:"sensor_poll_ms"`
	SafetyCheckMs int64  `json:"safety_check_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	RelayPin      int    `json:"relay_pin"`
	SensorPath    string `json:"sensor_path"`
	DataDir       string `json:"data_dir"`
}

func buildInner(snap Snapshot) StatusInner {
	state := snap.State
	if state == "" {
		state = "unknown"
	}
	mode := snap.Mode
	if mode == "" {
		mode = "unknown"
	}
	safety := snap.SafetyStatus
	if safety == "" {
		safety = "unknown"
	}

	return StatusInner{
		State:         state,
		Mode:          mode,
		HeaterOn:      snap.HeaterOn,
		Temperature:   snap.Temperature,
		Setpoint:      snap.Setpoint,
		Safety:        SafetyJSON{Status: safety, Active: snap.SafetyActive},
		Timer:         TimerJSON{Running: snap.TimerRunning, RemainingSecs: int64(snap.TimerRemaining.Truncate(time.Second).Seconds())},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Events: EventsJSON{
			Processed: snap.BusStats.Processed,
			Dropped:   snap.BusStats.Dropped,
			Errors:    snap.BusStats.Errors,
		},
		Config: ConfigJSON{
			SensorPollMs:  snap.Config.SensorPollMs,
			SafetyCheckMs: snap.Config.SafetyCheckMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			RelayPin:      snap.Config.RelayPin,
			SensorPath:    snap.Config.SensorPath,
			DataDir:       snap.Config.DataDir,
		},
	}
}

// FormatJSON returns the indented JSON status, used by the print-state mode.
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the compact JSON status for a lifecycle log
// line (STARTUP, HEARTBEAT, SHUTDOWN).
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
