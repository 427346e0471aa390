package workflow

import "fmt"

// State is a workflow instance's position in the coarse-to-fine sequence.
type State int

const (
	Idle State = iota
	CoarseRunning
	FootprintReady
	FineRunning
	Done
	Failed
)

var stateNames = [...]string{
	Idle:           "idle",
	CoarseRunning:  "coarse_running",
	FootprintReady: "footprint_ready",
	FineRunning:    "fine_running",
	Done:           "done",
	Failed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Done || s == Failed }

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

// Next is the transition function. ok reports whether the work attached to
// the outgoing transition of s succeeded; any failure leads to Failed.
func Next(s State, ok bool) (State, error) {
	if s.Terminal() {
		return s, fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, s)
	}
	if !ok {
		return Failed, nil
	}
	switch s {
	case Idle:
		return CoarseRunning, nil
	case CoarseRunning:
		return FootprintReady, nil
	case FootprintReady:
		return FineRunning, nil
	case FineRunning:
		return Done, nil
	default:
		return s, fmt.Errorf("%w: from %s", ErrIllegalTransition, s)
	}
}
