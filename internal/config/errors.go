package config

import "errors"

// Sentinel error kinds. Load wraps ErrLoadConfig for unreadable sources and
// ErrInvalidConfig for values that fail Validate.
var (
	ErrInvalidConfig = errors.New("invalid runout config")
	ErrLoadConfig    = errors.New("load runout config")
)
