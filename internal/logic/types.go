// Package logic contains the pure valve actuation state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via the Clock interface.
package logic

import (
	"errors"
	"time"
)

// Phase is the actuator's current mode. Exactly one phase holds at a time.
type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhaseOperating   Phase = "OPERATING"
	PhaseCalibrating Phase = "CALIBRATING"
)

// CalibrationDirection selects which end-stop a calibration run drives to.
type CalibrationDirection string

const (
	// CalibrateTowardStart drives the open output until StartAngle is reached.
	CalibrateTowardStart CalibrationDirection = "start"
	// CalibrateTowardMax drives the close output until MaxAngle is reached.
	CalibrateTowardMax CalibrationDirection = "max"
)

// Drive is the output asserted by an in-flight operation.
type Drive string

const (
	DriveNone  Drive = ""
	DriveOpen  Drive = "OPEN"
	DriveClose Drive = "CLOSE"
)

// Status strings reported by Valve.Status for named positions and motion.
const (
	StatusCalibrating = "calibrating"
	StatusOpening     = "opening"
	StatusClosing     = "closing"
	StatusOpen        = "OPEN"
	StatusHalfOpen    = "HALFOPEN"
	StatusClosed      = "CLOSED"
)

// CalibrationOvertravel is added to the full travel time of every
// calibration run so the actuator reaches its mechanical end-stop.
const CalibrationOvertravel = 2 * time.Second

// ErrInvalidConfig is returned by NewValve for a configuration that
// cannot describe a valve.
var ErrInvalidConfig = errors.New("invalid valve configuration")

// Config is the immutable valve configuration.
type Config struct {
	// Label identifies the valve in diagnostics. It has no semantic effect.
	Label string
	// OpenPin and ClosePin are the logical outputs driving the motor.
	OpenPin  int
	ClosePin int
	// StartAngle is the fully open position, MaxAngle the fully closed one.
	StartAngle int
	MaxAngle   int
	// TravelTime is the drive time from StartAngle to MaxAngle.
	TravelTime           time.Duration
	CalibrationDirection CalibrationDirection
}

// SignalSink is a binary output capability addressed by logical pin.
// It may be a bare GPIO line or a channel on a shared port expander.
type SignalSink interface {
	Write(pin int, asserted bool) error
}

// Diagnostics receives leveled, format-string log messages.
// *zap.SugaredLogger satisfies it.
type Diagnostics interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopDiagnostics struct{}

func (nopDiagnostics) Debugf(string, ...any) {}
func (nopDiagnostics) Warnf(string, ...any)  {}

// Snapshot is a point-in-time copy of a valve's state.
type Snapshot struct {
	Label        string
	Status       string
	Phase        Phase
	Drive        Drive
	CurrentAngle int
	TargetAngle  int
	StartAngle   int
	MaxAngle     int
	WriteFaults  int
}

// EventType classifies a valve state change seen by the scheduler.
type EventType string

const (
	EventTarget      EventType = "TARGET"
	EventStarted     EventType = "OPERATION_STARTED"
	EventStopped     EventType = "OPERATION_STOPPED"
	EventCalibrating EventType = "CALIBRATION_STARTED"
	EventCalibrated  EventType = "CALIBRATION_STOPPED"
)

// Event is a valve state change to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Valve     Snapshot
}

// ClassifyChange returns the event type describing the transition from
// prev to next, or false if nothing observable changed.
func ClassifyChange(prev, next Snapshot) (EventType, bool) {
	switch {
	case prev.Phase != PhaseCalibrating && next.Phase == PhaseCalibrating:
		return EventCalibrating, true
	case prev.Phase == PhaseCalibrating && next.Phase != PhaseCalibrating:
		return EventCalibrated, true
	case prev.Phase != PhaseOperating && next.Phase == PhaseOperating:
		return EventStarted, true
	case prev.Phase == PhaseOperating && next.Phase != PhaseOperating:
		return EventStopped, true
	case prev.TargetAngle != next.TargetAngle:
		return EventTarget, true
	}
	return "", false
}
