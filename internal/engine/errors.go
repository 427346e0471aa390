package engine

import (
	"errors"
	"fmt"
)

// Sentinel kinds for engine errors.
var (
	ErrEngineFailed  = errors.New("simulation engine failed")
	ErrMissingOutput = errors.New("simulation engine produced no max height raster")
	ErrNoBinary      = errors.New("simulation engine binary not configured")
)

// ExitError reports a non-zero engine exit. Stderr is kept verbatim.
type ExitError struct {
	Stage  string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s stage: engine exited with code %d", e.Stage, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap lets errors.Is match ErrEngineFailed.
func (e *ExitError) Unwrap() error { return ErrEngineFailed }
