package orchestration

import (
	"errors"
	"fmt"
)

// Phase is a job's position in its lifecycle.
type Phase int

// Job phases, in lifecycle order. Failed is reachable from every
// non-terminal phase.
const (
	Pending Phase = iota
	Splitting
	ComputingMetrics
	Analyzing
	Complete
	Failed
)

var phaseNames = [...]string{
	Pending:          "pending",
	Splitting:        "splitting",
	ComputingMetrics: "computing_metrics",
	Analyzing:        "analyzing",
	Complete:         "complete",
	Failed:           "failed",
}

// String returns the wire name of the phase.
func (p Phase) String() string {
	if p < Pending || p > Failed {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase converts a wire name back to a Phase.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if name == s {
			return Phase(p), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Terminal reports whether no further transition is allowed.
func (p Phase) Terminal() bool { return p == Complete || p == Failed }

// CanTransition reports whether the lifecycle allows moving from p to next.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == Failed {
		return true
	}
	return next == p+1
}

var (
	// ErrTerminal is returned for any attempt to mutate a job that reached
	// Complete or Failed.
	ErrTerminal = errors.New("job is in a terminal phase")
	// ErrInvalidTransition is returned for transitions the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid phase transition")
)
