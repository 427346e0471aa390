package stage

import "errors"

// ErrInvalidStage is wrapped by every Build validation failure.
var ErrInvalidStage = errors.New("invalid stage config")
