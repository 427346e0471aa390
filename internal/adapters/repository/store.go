// Package repository defines the run ledger interface and its stores.
package repository

import (
	"context"
	"time"

	"github.com/okian/runout/internal/domain/raster"
)

// Run is one ledger row: the latest known state of a workflow instance.
type Run struct {
	ID         string
	State      string
	Class      string
	Multiplier float64
	WorkDir    string

	Volume       float64
	ScaledVolume float64

	FootprintCells int
	DilatedCells   int
	ClippedCells   int
	FineFlowCells  int
	FineEdgeCells  int
	EngineCalls    int
	Extent         raster.Extent

	FineMaxHeight string
	Error         string

	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// Store persists run records.
type Store interface {
	// Put inserts or replaces the record with the same ID.
	Put(ctx context.Context, run Run) error

	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (Run, error)

	// List returns up to limit records, most recently submitted first.
	List(ctx context.Context, limit int) ([]Run, error)

	// CountByState returns the number of records per state.
	CountByState(ctx context.Context) (map[string]int, error)

	// Close releases resources held by the store.
	Close() error
}

func validate(run Run) error {
	if run.ID == "" {
		return ErrInvalidRun
	}
	return nil
}
