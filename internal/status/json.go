package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/motor-valve/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Valves        []ValveJSON  `json:"valves"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// ValveJSON is the JSON representation of one valve.
type ValveJSON struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	Phase        string `json:"phase"`
	Drive        string `json:"drive,omitempty"`
	CurrentAngle int    `json:"current_angle"`
	TargetAngle  int    `json:"target_angle"`
	StartAngle   int    `json:"start_angle"`
	MaxAngle     int    `json:"max_angle"`
	WriteFaults  int    `json:"write_faults"`
}

// CountsJSON is the JSON representation of counters.
type CountsJSON struct {
	Commands int `json:"commands"`
	Rejected int `json:"rejected"`
	Events   int `json:"events"`
}

// NetworkJSON is the JSON representation of the host uplink.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status,omitempty"`
	SSID       string `json:"ssid,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs                int64  `json:"poll_ms"`
	HeartbeatMs           int64  `json:"heartbeat_ms"`
	CalibrationIntervalMs int64  `json:"calibration_interval_ms"`
	Broker                string `json:"broker,omitempty"`
	TopicPrefix           string `json:"topic_prefix,omitempty"`
	HTTPAddr              string `json:"http_addr,omitempty"`
}

// NewValveJSON converts a valve snapshot to its JSON representation.
func NewValveJSON(v logic.Snapshot) ValveJSON {
	return ValveJSON{
		Name:         v.Label,
		Status:       v.Status,
		Phase:        string(v.Phase),
		Drive:        string(v.Drive),
		CurrentAngle: v.CurrentAngle,
		TargetAngle:  v.TargetAngle,
		StartAngle:   v.StartAngle,
		MaxAngle:     v.MaxAngle,
		WriteFaults:  v.WriteFaults,
	}
}

func buildInner(snap Snapshot) StatusInner {
	valves := make([]ValveJSON, len(snap.Valves))
	for i, v := range snap.Valves {
		valves[i] = NewValveJSON(v)
	}

	var network *NetworkJSON
	if n := snap.Network; n != nil {
		network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}

	return StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Valves:        valves,
		Network:       network,
		Counts: CountsJSON{
			Commands: snap.Counts.Commands,
			Rejected: snap.Counts.Rejected,
			Events:   snap.Counts.Events,
		},
		Config: ConfigJSON{
			PollMs:                snap.Config.PollMs,
			HeartbeatMs:           snap.Config.HeartbeatMs,
			CalibrationIntervalMs: snap.Config.CalibrationInterval.Milliseconds(),
			Broker:                snap.Config.Broker,
			TopicPrefix:           snap.Config.TopicPrefix,
			HTTPAddr:              snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatValveJSON returns the indented JSON of a single valve.
func FormatValveJSON(v logic.Snapshot) []byte {
	data, _ := json.MarshalIndent(NewValveJSON(v), "", "  ")
	return data
}
