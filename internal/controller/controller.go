// Package controller schedules a set of named valves. It applies commands,
// ticks every valve, runs periodic calibration and reports state changes as
// events. A Controller is owned by a single goroutine.
package controller

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/motor-valve/internal/logic"
)

// Options controls calibration scheduling.
type Options struct {
	// CalibrateOnStart calibrates every valve when Start is called.
	CalibrateOnStart bool
	// CalibrationInterval is the period between automatic calibrations of
	// all valves; 0 disables them.
	CalibrationInterval time.Duration
	// Reanchor drives a valve to its calibrated end-stop after calibration
	// and then back to the angle it was asked for, so the estimate matches
	// the physical position.
	Reanchor bool
}

type entry struct {
	name  string
	valve *logic.Valve
	last  logic.Snapshot

	// Target at the start of the running calibration. Re-anchoring is
	// skipped when a command changed it in the meantime.
	calibrationTarget int
	reanchor          bool

	// Angle to return to once the re-anchoring operation completes.
	restoreAngle   int
	restorePending bool
}

// Controller owns the valves of one daemon.
type Controller struct {
	clock logic.Clock
	opts  Options
	log   *zap.SugaredLogger

	entries []*entry
	byName  map[string]*entry

	lastCalibration time.Time
	lastHeartbeat   time.Time
}

// New creates an empty controller. A nil log discards messages.
func New(clock logic.Clock, opts Options, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{
		clock:  clock,
		opts:   opts,
		log:    log,
		byName: make(map[string]*entry),
	}
}

// Add registers a valve under name. Valves keep their registration order.
func (c *Controller) Add(name string, v *logic.Valve) error {
	if v == nil {
		return fmt.Errorf("valve %q is nil", name)
	}
	if _, dup := c.byName[name]; dup {
		return fmt.Errorf("valve %q already registered", name)
	}
	e := &entry{name: name, valve: v, last: v.Snapshot()}
	c.entries = append(c.entries, e)
	c.byName[name] = e
	return nil
}

// Names returns the valve names in registration order.
func (c *Controller) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Has reports whether name is a registered valve.
func (c *Controller) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Valve returns the valve registered under name.
func (c *Controller) Valve(name string) (*logic.Valve, bool) {
	e, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return e.valve, true
}

// Snapshots returns the state of every valve in registration order.
func (c *Controller) Snapshots() []logic.Snapshot {
	snaps := make([]logic.Snapshot, len(c.entries))
	for i, e := range c.entries {
		snaps[i] = e.valve.Snapshot()
	}
	return snaps
}

// Start marks the beginning of the calibration and heartbeat schedules and
// calibrates every valve if configured to.
func (c *Controller) Start() {
	now := c.clock.Now()
	c.lastCalibration = now
	c.lastHeartbeat = now
	if c.opts.CalibrateOnStart {
		c.log.Infof("calibrating %d valve(s) on start", len(c.entries))
		c.calibrateAll()
	}
}

// Apply executes cmd against its valve.
func (c *Controller) Apply(cmd Command) error {
	e, ok := c.byName[cmd.Valve]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownValve, cmd.Valve)
	}

	v := e.valve
	switch cmd.Action {
	case ActionOpen:
		v.Open()
	case ActionClose:
		v.Close()
	case ActionHalfOpen:
		v.HalfOpen()
	case ActionAngle:
		v.SetTargetAngle(cmd.Angle)
	case ActionCalibrate:
		c.calibrate(e)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}

	if cmd.Action != ActionCalibrate {
		e.restorePending = false
	}
	c.log.Infof("command %s from %s: target %d", cmd, sourceOrUnknown(cmd.Source), v.TargetAngle())
	return nil
}

func sourceOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (c *Controller) calibrateAll() {
	for _, e := range c.entries {
		c.calibrate(e)
	}
}

func (c *Controller) calibrate(e *entry) {
	if !e.valve.IsCalibrating() {
		e.calibrationTarget = e.valve.TargetAngle()
	}
	e.reanchor = c.opts.Reanchor
	e.restorePending = false
	e.valve.Calibrate()
}

// Tick runs the calibration schedule, advances every valve and returns the
// observable state changes since the previous Tick, in valve order.
func (c *Controller) Tick() []logic.Event {
	now := c.clock.Now()

	if c.opts.CalibrationInterval > 0 && now.Sub(c.lastCalibration) >= c.opts.CalibrationInterval {
		c.lastCalibration = now
		c.log.Infof("periodic calibration of %d valve(s)", len(c.entries))
		c.calibrateAll()
	}

	var events []logic.Event
	for _, e := range c.entries {
		wasCalibrating := e.valve.IsCalibrating()
		e.valve.Tick()

		if wasCalibrating && !e.valve.IsCalibrating() {
			c.afterCalibration(e)
		}
		if e.restorePending && e.valve.Phase() == logic.PhaseIdle && e.valve.CurrentAngle() == e.valve.TargetAngle() {
			e.restorePending = false
			e.valve.SetTargetAngle(e.restoreAngle)
		}

		snap := e.valve.Snapshot()
		if typ, ok := logic.ClassifyChange(e.last, snap); ok {
			events = append(events, logic.Event{Timestamp: now, Type: typ, Valve: snap})
		}
		e.last = snap
	}
	return events
}

// afterCalibration re-anchors the estimate: the valve sits at the calibrated
// end-stop, so drive the estimate there and then return to the prior target.
func (c *Controller) afterCalibration(e *entry) {
	if !e.reanchor {
		return
	}
	e.reanchor = false

	v := e.valve
	if v.TargetAngle() != e.calibrationTarget {
		c.log.Debugf("[%s] target changed during calibration, not re-anchoring", e.name)
		return
	}

	if v.Config().CalibrationDirection == logic.CalibrateTowardMax {
		v.Close()
	} else {
		v.Open()
	}
	if e.calibrationTarget != v.TargetAngle() {
		e.restoreAngle = e.calibrationTarget
		e.restorePending = true
	}
	c.log.Debugf("[%s] re-anchoring at %d, then returning to %d", e.name, v.TargetAngle(), e.calibrationTarget)
}

// CheckHeartbeat reports whether interval has elapsed since the previous
// heartbeat or Start. A zero interval disables heartbeats.
func (c *Controller) CheckHeartbeat(interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	now := c.clock.Now()
	if now.Sub(c.lastHeartbeat) < interval {
		return false
	}
	c.lastHeartbeat = now
	return true
}

// Shutdown halts every valve, leaving all outputs de-asserted, and returns
// the resulting state changes.
func (c *Controller) Shutdown() []logic.Event {
	now := c.clock.Now()
	var events []logic.Event
	for _, e := range c.entries {
		e.valve.Halt()
		e.restorePending = false
		e.reanchor = false

		snap := e.valve.Snapshot()
		if typ, ok := logic.ClassifyChange(e.last, snap); ok {
			events = append(events, logic.Event{Timestamp: now, Type: typ, Valve: snap})
		}
		e.last = snap
	}
	return events
}
