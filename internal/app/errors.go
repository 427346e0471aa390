package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrInvalidRequest = errors.New("invalid run request")
	ErrNotStarted     = errors.New("service not started")
	ErrRejected       = errors.New("run rejected")
	ErrWorkDirBusy    = errors.New("work dir in use by another run")
	ErrDuplicateRun   = errors.New("run id already in the ledger")
)
