// Package mqtt publishes valve state to MQTT and receives valve commands,
// with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/motor-valve/internal/logic"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "pool/valves"

// Topic suffixes under the configured prefix.
const (
	suffixState  = "state"
	suffixSet    = "set"
	suffixSystem = "system"
)

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

// State is the retained state topic of a valve.
func (t Topics) State(valve string) string {
	return t.Prefix + "/" + valve + "/" + suffixState
}

// Set is the command topic of a valve.
func (t Topics) Set(valve string) string {
	return t.Prefix + "/" + valve + "/" + suffixSet
}

// SetWildcard matches the command topic of every valve.
func (t Topics) SetWildcard() string {
	return t.Prefix + "/+/" + suffixSet
}

// System is the topic for daemon lifecycle events.
func (t Topics) System() string {
	return t.Prefix + "/" + suffixSystem
}

// ValveFromSet extracts the valve name from a command topic.
func (t Topics) ValveFromSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	valve, ok := strings.CutSuffix(rest, "/"+suffixSet)
	if !ok || valve == "" || strings.Contains(valve, "/") {
		return "", false
	}
	return valve, true
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a valve state change to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandHandler receives the raw payload published to a valve's set topic.
// It is called from the MQTT client goroutine and must not block.
type CommandHandler func(valve, payload string)

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Lifecycle event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// Payload represents the MQTT message payload for a valve state change.
type Payload struct {
	Valve ValvePayload `json:"valve"`
}

// ValvePayload contains the valve state details.
type ValvePayload struct {
	Timestamp    string `json:"timestamp"`
	Event        string `json:"event"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Phase        string `json:"phase"`
	Drive        string `json:"drive,omitempty"`
	CurrentAngle int    `json:"current_angle"`
	TargetAngle  int    `json:"target_angle"`
	StartAngle   int    `json:"start_angle"`
	MaxAngle     int    `json:"max_angle"`
	WriteFaults  int    `json:"write_faults,omitempty"`
}

// FormatPayload creates the JSON payload for a valve event.
func FormatPayload(event logic.Event) ([]byte, error) {
	v := event.Valve
	payload := Payload{
		Valve: ValvePayload{
			Timestamp:    event.Timestamp.UTC().Format(time.RFC3339),
			Event:        string(event.Type),
			Name:         v.Label,
			Status:       v.Status,
			Phase:        string(v.Phase),
			Drive:        string(v.Drive),
			CurrentAngle: v.CurrentAngle,
			TargetAngle:  v.TargetAngle,
			StartAngle:   v.StartAngle,
			MaxAngle:     v.MaxAngle,
			WriteFaults:  v.WriteFaults,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// WillPayload is registered with the broker as the last will. It has no
// timestamp because it is published by the broker on our behalf.
func WillPayload() []byte {
	data, _ := FormatSystemPayload(SystemEvent{Event: EventOffline, Reason: "CONNECTION_LOST"})
	return data
}
