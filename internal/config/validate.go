package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/okian/runout/internal/domain/flowclass"
	"github.com/okian/runout/internal/domain/footprint"
	"github.com/okian/runout/internal/domain/stage"
	"github.com/robfig/cron/v3"
)

// nestTolerance is the relative slack allowed in the coarse/fine ratio.
const nestTolerance = 1e-9

// Validate checks cross-field constraints. Input paths and the engine binary
// are checked by the commands that need them.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr is empty", ErrInvalidConfig)
	case c.WorkDir == "":
		return fmt.Errorf("%w: work_dir is empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive, got %d", ErrInvalidConfig, c.WorkerCount)
	case c.JobTimeout < 0:
		return fmt.Errorf("%w: job_timeout must not be negative, got %s", ErrInvalidConfig, c.JobTimeout)
	case c.SweepParallelism <= 0:
		return fmt.Errorf("%w: sweep_parallelism must be positive, got %d", ErrInvalidConfig, c.SweepParallelism)
	case c.MaxRunsLimit <= 0:
		return fmt.Errorf("%w: max_runs_limit must be positive, got %d", ErrInvalidConfig, c.MaxRunsLimit)
	case c.Inputs.HeaderLines < 0:
		return fmt.Errorf("%w: inputs.header_lines must not be negative", ErrInvalidConfig)
	case !positive(c.Flow.Multiplier):
		return fmt.Errorf("%w: flow.multiplier must be positive, got %v", ErrInvalidConfig, c.Flow.Multiplier)
	case c.Footprint.Threshold < 0 || math.IsNaN(c.Footprint.Threshold) || math.IsInf(c.Footprint.Threshold, 0):
		return fmt.Errorf("%w: footprint.threshold must be a non-negative number", ErrInvalidConfig)
	case c.Footprint.Radius < 0:
		return fmt.Errorf("%w: footprint.radius must not be negative", ErrInvalidConfig)
	case !positive(c.Coarse.Resolution) || !positive(c.Fine.Resolution):
		return fmt.Errorf("%w: stage resolutions must be positive", ErrInvalidConfig)
	case c.Fine.Resolution > c.Coarse.Resolution:
		return fmt.Errorf("%w: fine resolution %v is coarser than %v", ErrInvalidConfig, c.Fine.Resolution, c.Coarse.Resolution)
	case !nests(c.Coarse.Resolution, c.Fine.Resolution):
		return fmt.Errorf("%w: coarse resolution %v is not a whole multiple of fine resolution %v", ErrInvalidConfig, c.Coarse.Resolution, c.Fine.Resolution)
	case c.Coarse.Prefix == "" || c.Fine.Prefix == "" || c.Coarse.Prefix == c.Fine.Prefix:
		return fmt.Errorf("%w: stage prefixes must be set and distinct", ErrInvalidConfig)
	}

	for _, kv := range c.Engine.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("%w: engine.env entry %q is not KEY=VALUE", ErrInvalidConfig, kv)
		}
	}
	if _, err := footprint.ParseMetric(c.Footprint.Metric); err != nil {
		return fmt.Errorf("%w: footprint.metric: %w", ErrInvalidConfig, err)
	}
	switch c.Flow.Phases {
	case stage.SinglePhase:
		if _, err := flowclass.Parse(c.Flow.Class); err != nil {
			return fmt.Errorf("%w: flow.class: %w", ErrInvalidConfig, err)
		}
	case stage.ThreePhase:
		if len(c.Flow.Densities) != 3 {
			return fmt.Errorf("%w: flow.densities needs 3 values, got %d", ErrInvalidConfig, len(c.Flow.Densities))
		}
	default:
		return fmt.Errorf("%w: flow.phases must be 1 or 3, got %d", ErrInvalidConfig, c.Flow.Phases)
	}
	for _, s := range c.Sweep.Classes {
		if _, err := flowclass.Parse(s); err != nil {
			return fmt.Errorf("%w: sweep.classes: %w", ErrInvalidConfig, err)
		}
	}
	for _, m := range c.Sweep.Multipliers {
		if !positive(m) {
			return fmt.Errorf("%w: sweep.multipliers must be positive, got %v", ErrInvalidConfig, m)
		}
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("%w: schedule: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// nests reports whether fine cells tile coarse cells exactly.
func nests(coarse, fine float64) bool {
	r := coarse / fine
	return math.Abs(r-math.Round(r)) <= nestTolerance*r
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
