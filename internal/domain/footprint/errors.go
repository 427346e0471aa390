package footprint

import "errors"

// Sentinel kinds for footprint errors.
var (
	ErrInvalidThreshold = errors.New("invalid flow threshold")
	ErrInvalidRadius    = errors.New("invalid dilation radius")
	ErrUnknownMetric    = errors.New("unknown distance metric")
)
