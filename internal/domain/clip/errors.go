package clip

import "errors"

// Sentinel kinds for clip errors.
var (
	ErrFootprintEmpty    = errors.New("footprint empty")
	ErrCoverageGap       = errors.New("fine DEM does not cover the clip extent")
	ErrInvalidRegion     = errors.New("invalid working region")
	ErrInvalidResolution = errors.New("invalid target resolution")
)
