package flowclass

import "errors"

// ErrInvalidFlowClass is returned for any class outside the table.
var ErrInvalidFlowClass = errors.New("invalid flow class")
