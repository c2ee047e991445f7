// Package status provides a thread-safe status tracker for the motor-valve daemon.
// The run loop writes to it; HTTP handlers read from it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/motor-valve/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs              int64
	HeartbeatMs         int64
	CalibrationInterval time.Duration
	Broker              string
	TopicPrefix         string
	HTTPAddr            string
}

// Network describes the host's uplink as reported by the Pi's network
// helper through environment variables.
type Network struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// NetworkFromEnv builds a Network from NETWORK_* variables looked up with
// getenv. It returns nil when NETWORK_STATUS is unset, since the helper
// always exports it.
func NetworkFromEnv(getenv func(string) string) *Network {
	st := getenv("NETWORK_STATUS")
	if st == "" {
		return nil
	}
	return &Network{
		Type:       getenv("NETWORK_TYPE"),
		IP:         getenv("NETWORK_IP"),
		Status:     st,
		Gateway:    getenv("NETWORK_GATEWAY"),
		WifiStatus: getenv("NETWORK_WIFI_STATUS"),
		SSID:       getenv("NETWORK_WIFI_SSID"),
	}
}

// Counts are totals since start.
type Counts struct {
	Commands int // accepted commands
	Rejected int // commands that failed to parse or apply
	Events   int // valve state changes published
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and owns its Valves slice.
type Snapshot struct {
	Valves        []logic.Snapshot
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *Network
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Valve returns the snapshot of the named valve.
func (s Snapshot) Valve(name string) (logic.Snapshot, bool) {
	for _, v := range s.Valves {
		if v.Label == name {
			return v, true
		}
	}
	return logic.Snapshot{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	clock logic.Clock

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker that started at clock.Now().
func NewTracker(clock logic.Clock, cfg Config) *Tracker {
	return &Tracker{
		clock: clock,
		snap: Snapshot{
			StartTime: clock.Now(),
			Config:    cfg,
		},
	}
}

// UpdateValves replaces the valve states. Called from the run loop on every tick.
func (t *Tracker) UpdateValves(valves []logic.Snapshot) {
	cp := make([]logic.Snapshot, len(valves))
	copy(cp, valves)

	t.mu.Lock()
	t.snap.Valves = cp
	t.mu.Unlock()
}

// RecordCommand counts an accepted or rejected command.
func (t *Tracker) RecordCommand(accepted bool) {
	t.mu.Lock()
	if accepted {
		t.snap.Counts.Commands++
	} else {
		t.snap.Counts.Rejected++
	}
	t.mu.Unlock()
}

// RecordEvents adds n published state changes.
func (t *Tracker) RecordEvents(n int) {
	t.mu.Lock()
	t.snap.Counts.Events += n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork replaces the network info. A nil n clears it.
func (t *Tracker) SetNetwork(n *Network) {
	if n != nil {
		cp := *n
		n = &cp
	}
	t.mu.Lock()
	t.snap.Network = n
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set from the tracker's clock at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Valves = append([]logic.Snapshot(nil), t.snap.Valves...)
	t.mu.RUnlock()
	s.Now = t.clock.Now()
	return s
}
