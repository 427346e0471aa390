package workflow

import (
	"errors"
	"fmt"
)

// Sentinel kinds for workflow errors.
var (
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrUnknownState      = errors.New("unknown workflow state")
	ErrInvalidPlan       = errors.New("invalid workflow plan")
)

// Stage names used in StageError and metrics.
const (
	StageHydrograph = "hydrograph"
	StageCoarse     = "coarse"
	StageFootprint  = "footprint"
	StageClip       = "clip"
	StageFine       = "fine"
)

// StageError is the fatal error of a failed workflow. It names the stage
// and the invariant that was violated.
type StageError struct {
	Stage     string
	Invariant string
	Err       error
}

func (e *StageError) Error() string {
	if e.Invariant == "" {
		return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage: %s: %v", e.Stage, e.Invariant, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
