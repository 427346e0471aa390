package repository

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrNotFound     = errors.New("run not found")
	ErrInvalidLimit = errors.New("invalid list limit")
	ErrInvalidRun   = errors.New("invalid run record")
)
