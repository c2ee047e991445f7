package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownValve is returned for a command addressed to a valve that
	// is not configured.
	ErrUnknownValve = errors.New("unknown valve")
	// ErrUnknownAction is returned for an unrecognized command word.
	ErrUnknownAction = errors.New("unknown action")
	// ErrBadAngle is returned when an angle argument is not an integer.
	ErrBadAngle = errors.New("bad angle")
)

// Action is a valve command verb.
type Action string

const (
	ActionOpen      Action = "open"
	ActionClose     Action = "close"
	ActionHalfOpen  Action = "halfopen"
	ActionCalibrate Action = "calibrate"
	ActionAngle     Action = "angle"
)

// Command is a request for one valve. Angle is only used by ActionAngle and
// is clamped by the valve, not here.
type Command struct {
	Valve  string
	Action Action
	Angle  int
	// Source names where the command came from, for logging.
	Source string
}

func (c Command) String() string {
	if c.Action == ActionAngle {
		return fmt.Sprintf("%s %s %d", c.Valve, c.Action, c.Angle)
	}
	return fmt.Sprintf("%s %s", c.Valve, c.Action)
}

// ParseAction maps a case-insensitive command word onto an Action.
// "half" and "half-open" are accepted for ActionHalfOpen.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return ActionOpen, nil
	case "close":
		return ActionClose, nil
	case "halfopen", "half-open", "half":
		return ActionHalfOpen, nil
	case "calibrate":
		return ActionCalibrate, nil
	case "angle":
		return ActionAngle, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// ParseAngle parses a decimal angle argument.
func ParseAngle(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAngle, s)
	}
	return n, nil
}

// ParseCommand builds a command for valve from a text payload. The payload
// is an action word, a bare integer angle, or "angle <n>".
func ParseCommand(valve, payload string) (Command, error) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty payload", ErrUnknownAction)
	}

	if n, err := strconv.Atoi(fields[0]); err == nil && len(fields) == 1 {
		return Command{Valve: valve, Action: ActionAngle, Angle: n}, nil
	}

	action, err := ParseAction(fields[0])
	if err != nil {
		return Command{}, err
	}

	cmd := Command{Valve: valve, Action: action}
	switch {
	case action == ActionAngle:
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%w: angle needs one argument", ErrBadAngle)
		}
		if cmd.Angle, err = ParseAngle(fields[1]); err != nil {
			return Command{}, err
		}
	case len(fields) > 1:
		return Command{}, fmt.Errorf("%w: %s takes no argument", ErrUnknownAction, action)
	}
	return cmd, nil
}
