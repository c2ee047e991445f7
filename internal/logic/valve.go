package logic

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// Valve estimates the position of a two-wire motorized valve from elapsed
// drive time and sequences its open/close relays.
//
// A Valve is not safe for concurrent use. One goroutine must issue all
// commands and call Tick.
type Valve struct {
	cfg   Config
	sink  SignalSink
	clock Clock
	log   Diagnostics

	halfAngle int

	currentAngle int
	targetAngle  int
	phase        Phase

	// drive and committedAngle describe the in-flight operation.
	drive             Drive
	committedAngle    int
	operationStart    time.Time
	operationDuration time.Duration

	calibrationStart time.Time

	writeFaults int
}

// NewValve validates cfg and returns an idle valve estimated at StartAngle.
// A nil diag disables diagnostics.
func NewValve(cfg Config, sink SignalSink, clock Clock, diag Diagnostics) (*Valve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: signal sink is required", ErrInvalidConfig)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: clock is required", ErrInvalidConfig)
	}
	if diag == nil {
		diag = nopDiagnostics{}
	}

	return &Valve{
		cfg:          cfg,
		sink:         sink,
		clock:        clock,
		log:          diag,
		halfAngle:    cfg.StartAngle + (cfg.MaxAngle-cfg.StartAngle)/2,
		currentAngle: cfg.StartAngle,
		targetAngle:  cfg.StartAngle,
		phase:        PhaseIdle,
	}, nil
}

// Validate reports whether cfg describes a drivable valve. Errors wrap
// ErrInvalidConfig.
func (cfg Config) Validate() error {
	if cfg.StartAngle >= cfg.MaxAngle {
		return fmt.Errorf("%w: start angle %d must be below max angle %d", ErrInvalidConfig, cfg.StartAngle, cfg.MaxAngle)
	}
	if cfg.TravelTime <= 0 {
		return fmt.Errorf("%w: travel time must be positive, got %v", ErrInvalidConfig, cfg.TravelTime)
	}
	if cfg.OpenPin < 0 || cfg.ClosePin < 0 {
		return fmt.Errorf("%w: pins must not be negative", ErrInvalidConfig)
	}
	if cfg.OpenPin == cfg.ClosePin {
		return fmt.Errorf("%w: open and close pin are both %d", ErrInvalidConfig, cfg.OpenPin)
	}
	switch cfg.CalibrationDirection {
	case CalibrateTowardStart, CalibrateTowardMax:
	default:
		return fmt.Errorf("%w: unknown calibration direction %q", ErrInvalidConfig, cfg.CalibrationDirection)
	}
	return nil
}

// Open requests the fully open position (StartAngle).
func (v *Valve) Open() {
	v.setTarget(v.cfg.StartAngle, "open")
}

// Close requests the fully closed position (MaxAngle).
func (v *Valve) Close() {
	v.setTarget(v.cfg.MaxAngle, "close")
}

// HalfOpen requests the midpoint of the range, rounded down.
func (v *Valve) HalfOpen() {
	v.setTarget(v.halfAngle, "half-open")
}

// SetTargetAngle requests angle, clamped into [StartAngle, MaxAngle].
func (v *Valve) SetTargetAngle(angle int) {
	angle = max(v.cfg.StartAngle, min(angle, v.cfg.MaxAngle))
	v.setTarget(angle, "angle")
}

// setTarget records intent only. While calibrating the target is kept and
// acted upon once calibration ends; while operating the in-flight drive
// finishes first.
func (v *Valve) setTarget(angle int, reason string) {
	if angle == v.targetAngle {
		return
	}
	v.targetAngle = angle
	v.log.Debugf("[%s] target angle set to %d (%s), current angle %d, phase %s",
		v.cfg.Label, v.targetAngle, reason, v.currentAngle, v.phase)
}

// Calibrate starts a fixed-duration run into the configured end-stop,
// abandoning any operation or calibration in progress. The angle estimate
// is not changed; issue Open or Close afterwards to re-anchor it.
func (v *Valve) Calibrate() {
	v.release()

	pin := v.cfg.OpenPin
	if v.cfg.CalibrationDirection == CalibrateTowardMax {
		pin = v.cfg.ClosePin
	}
	v.write(pin, true)

	v.calibrationStart = v.clock.Now()
	v.phase = PhaseCalibrating
	v.log.Debugf("[%s] calibrating toward %s for %v", v.cfg.Label, v.cfg.CalibrationDirection, v.CalibrationDuration())
}

// CalibrationDuration is the fixed length of every calibration run.
func (v *Valve) CalibrationDuration() time.Duration {
	return v.cfg.TravelTime + CalibrationOvertravel
}

// OperationDuration returns the drive time needed to move between two angles.
// The product diff*TravelTime is formed in 128 bits so wide ranges with long
// travel times cannot overflow.
func (v *Valve) OperationDuration(from, to int) time.Duration {
	diff := uint64(from - to)
	if from < to {
		diff = uint64(to - from)
	}
	span := uint64(v.cfg.MaxAngle - v.cfg.StartAngle)

	hi, lo := bits.Mul64(diff, uint64(v.cfg.TravelTime))
	if hi >= span {
		return time.Duration(math.MaxInt64)
	}
	q, _ := bits.Div64(hi, lo, span)
	if q > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(q)
}

// Tick advances the state machine. It never blocks and must be called often
// enough that drive windows are not overshot by more than one interval.
func (v *Valve) Tick() {
	now := v.clock.Now()

	switch {
	case v.phase == PhaseCalibrating:
		if now.Sub(v.calibrationStart) >= v.CalibrationDuration() {
			v.release()
			v.phase = PhaseIdle
			v.log.Debugf("[%s] calibration stopped, estimated angle %d", v.cfg.Label, v.currentAngle)
		}

	case v.phase == PhaseIdle && v.currentAngle != v.targetAngle:
		v.operationDuration = v.OperationDuration(v.currentAngle, v.targetAngle)
		v.committedAngle = v.targetAngle
		if v.currentAngle > v.targetAngle {
			v.drive = DriveOpen
			v.write(v.cfg.OpenPin, true)
		} else {
			v.drive = DriveClose
			v.write(v.cfg.ClosePin, true)
		}
		v.operationStart = now
		v.phase = PhaseOperating
		v.log.Debugf("[%s] operating to %s: %d -> %d in %v",
			v.cfg.Label, v.drive, v.currentAngle, v.committedAngle, v.operationDuration)

	case v.phase == PhaseOperating:
		if now.Sub(v.operationStart) >= v.operationDuration {
			v.release()
			v.currentAngle = v.committedAngle
			v.phase = PhaseIdle
			v.log.Debugf("[%s] operation stopped at angle %d", v.cfg.Label, v.currentAngle)
		}
	}
}

// Halt de-asserts both outputs and leaves the valve idle at its current
// estimate. An interrupted operation is not credited, so the estimate may
// lag the physical position until the next calibration.
func (v *Valve) Halt() {
	v.release()
	if v.phase != PhaseIdle {
		v.log.Debugf("[%s] halted while %s at estimated angle %d", v.cfg.Label, v.phase, v.currentAngle)
	}
	v.phase = PhaseIdle
	v.targetAngle = v.currentAngle
}

// release always de-asserts both outputs together so the two relays are
// never energized at once.
func (v *Valve) release() {
	v.write(v.cfg.OpenPin, false)
	v.write(v.cfg.ClosePin, false)
	v.drive = DriveNone
}

func (v *Valve) write(pin int, asserted bool) {
	if err := v.sink.Write(pin, asserted); err != nil {
		v.writeFaults++
		v.log.Warnf("[%s] write pin %d asserted=%v: %v", v.cfg.Label, pin, asserted, err)
	}
}

// Label returns the diagnostic label.
func (v *Valve) Label() string { return v.cfg.Label }

// Config returns the construction parameters.
func (v *Valve) Config() Config { return v.cfg }

// StartAngle returns the fully open angle.
func (v *Valve) StartAngle() int { return v.cfg.StartAngle }

// HalfAngle returns the half-open angle.
func (v *Valve) HalfAngle() int { return v.halfAngle }

// MaxAngle returns the fully closed angle.
func (v *Valve) MaxAngle() int { return v.cfg.MaxAngle }

// CurrentAngle returns the estimated angle.
func (v *Valve) CurrentAngle() int { return v.currentAngle }

// TargetAngle returns the requested angle.
func (v *Valve) TargetAngle() int { return v.targetAngle }

// Phase returns the current phase.
func (v *Valve) Phase() Phase { return v.phase }

func (v *Valve) IsOpen() bool        { return v.currentAngle == v.cfg.StartAngle }
func (v *Valve) IsClosed() bool      { return v.currentAngle == v.cfg.MaxAngle }
func (v *Valve) IsHalfOpen() bool    { return v.currentAngle == v.halfAngle }
func (v *Valve) IsOperating() bool   { return v.phase == PhaseOperating }
func (v *Valve) IsCalibrating() bool { return v.phase == PhaseCalibrating }

// IsOpening reports an in-flight operation driving the open output.
func (v *Valve) IsOpening() bool {
	return v.phase == PhaseOperating && v.drive == DriveOpen
}

// IsClosing reports an in-flight operation driving the close output.
func (v *Valve) IsClosing() bool {
	return v.phase == PhaseOperating && v.drive == DriveClose
}

// Status describes the valve for humans. Motion takes precedence over
// named positions, which take precedence over the numeric angle.
func (v *Valve) Status() string {
	switch {
	case v.IsCalibrating():
		return StatusCalibrating
	case v.IsOpening():
		return StatusOpening
	case v.IsClosing():
		return StatusClosing
	case v.IsOpen():
		return StatusOpen
	case v.IsHalfOpen():
		return StatusHalfOpen
	case v.IsClosed():
		return StatusClosed
	}
	return fmt.Sprintf("%d°", v.currentAngle)
}

// Snapshot returns a copy of the valve state.
func (v *Valve) Snapshot() Snapshot {
	return Snapshot{
		Label:        v.cfg.Label,
		Status:       v.Status(),
		Phase:        v.phase,
		Drive:        v.drive,
		CurrentAngle: v.currentAngle,
		TargetAngle:  v.targetAngle,
		StartAngle:   v.cfg.StartAngle,
		MaxAngle:     v.cfg.MaxAngle,
		WriteFaults:  v.writeFaults,
	}
}
