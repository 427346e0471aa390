package raster

import "errors"

// Sentinel kinds for raster errors.
var (
	ErrInvalidGrid = errors.New("invalid grid")
	ErrFormat      = errors.New("malformed raster file")
	ErrOutOfBounds = errors.New("index outside grid")
)
