package workflow

import (
	"context"
	"time"

	"github.com/okian/runout/internal/domain/clip"
	"github.com/okian/runout/pkg/logger"
)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithRegion replaces the driver's private working region.
func WithRegion(r clip.Region) Option {
	return func(d *Driver) {
		if r != nil {
			d.region = r
		}
	}
}

// WithClock sets the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithObserver registers fn to receive a report copy after every transition,
// including the one into Failed.
func WithObserver(fn func(context.Context, Report)) Option {
	return func(d *Driver) {
		d.observe = fn
	}
}
