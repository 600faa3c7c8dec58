package call

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of the call session.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusActive
	StatusEnded
)

// ErrInvalidTransition is returned when a call action is requested from a
// status that has no edge for it.
var ErrInvalidTransition = errors.New("invalid call transition")

var statusNames = [...]string{
	StatusIdle:       "idle",
	StatusConnecting: "connecting",
	StatusActive:     "active",
	StatusEnded:      "ended",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText renders the status name so snapshots serialize readably.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown call status %q", b)
}

// edges lists every reachable transition. Nothing jumps straight from idle
// to active or from active back to idle.
var edges = map[Status][]Status{
	StatusIdle:       {StatusConnecting},
	StatusConnecting: {StatusActive, StatusEnded},
	StatusActive:     {StatusEnded},
	StatusEnded:      {StatusIdle},
}

// CanTransition reports whether to is reachable from s in one step.
func (s Status) CanTransition(to Status) bool {
	for _, next := range edges[s] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
