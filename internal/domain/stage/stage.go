// Package stage holds the immutable per-stage simulation configuration.
//
// A Config is built once from a Spec and never changes afterwards; the
// coarse and fine stages of a workflow each get their own.
package stage

import (
	"fmt"
	"math"

	"github.com/okian/runout/internal/domain/flowclass"
)

// Kind names a stage.
type Kind string

const (
	Coarse Kind = "coarse"
	Fine   Kind = "fine"
)

// Phase counts supported by the engine.
const (
	SinglePhase = 1
	ThreePhase  = 3
)

// Friction holds angles in degrees and the log10 turbulent coefficient.
type Friction struct {
	Internal  float64
	Basal     float64
	Turbulent float64
}

// TimeWindow is the simulated span and the interval between outputs, in seconds.
type TimeWindow struct {
	Start      float64
	End        float64
	OutputStep float64
}

// CFL carries the stability parameters passed through to the engine.
type CFL struct {
	Number      float64
	InitialStep float64
}

// Thresholds are the engine's minimum flow height and momentum.
type Thresholds struct {
	Height   float64
	Momentum float64
}

// Visualization controls the engine's map output cadence.
type Visualization struct {
	Interval  float64
	MaxHeight float64
}

// Preset is the stage-dependent part of a Spec.
type Preset struct {
	Time          TimeWindow
	CFL           CFL
	Thresholds    Thresholds
	Visualization Visualization
}

// Spec is the mutable input to Build.
type Spec struct {
	Kind       Kind
	Prefix     string
	Resolution float64
	Phases     int

	// Class selects rheology for single-phase runs.
	Class flowclass.Class
	// Densities and Friction are used verbatim in three-phase runs.
	Densities []float64
	Friction  Friction

	Preset
}

// Config is an immutable stage configuration.
type Config struct {
	kind       Kind
	prefix     string
	resolution float64
	phases     int
	class      flowclass.Class
	densities  []float64
	friction   Friction
	preset     Preset
}

// Build validates s and freezes it. Single-phase specs resolve their
// rheology through the flow class table; three-phase specs bypass it.
func Build(s Spec) (Config, error) {
	if s.Kind != Coarse && s.Kind != Fine {
		return Config{}, fmt.Errorf("%w: kind %q", ErrInvalidStage, s.Kind)
	}
	if s.Prefix == "" {
		return Config{}, fmt.Errorf("%w: empty prefix", ErrInvalidStage)
	}
	if !positive(s.Resolution) {
		return Config{}, fmt.Errorf("%w: resolution %v", ErrInvalidStage, s.Resolution)
	}
	if err := s.Preset.validate(); err != nil {
		return Config{}, err
	}

	c := Config{
		kind:       s.Kind,
		prefix:     s.Prefix,
		resolution: s.Resolution,
		phases:     s.Phases,
		preset:     s.Preset,
	}
	switch s.Phases {
	case SinglePhase:
		p, err := flowclass.Resolve(s.Class)
		if err != nil {
			return Config{}, err
		}
		c.class = s.Class
		c.densities = []float64{p.Density}
		c.friction = Friction{Internal: p.InternalFriction, Basal: p.BasalFriction, Turbulent: p.TurbulentFriction}
	case ThreePhase:
		if len(s.Densities) != ThreePhase {
			return Config{}, fmt.Errorf("%w: need %d densities, got %d", ErrInvalidStage, ThreePhase, len(s.Densities))
		}
		for _, d := range s.Densities {
			if !positive(d) {
				return Config{}, fmt.Errorf("%w: density %v", ErrInvalidStage, d)
			}
		}
		c.densities = append([]float64(nil), s.Densities...)
		c.friction = s.Friction
	default:
		return Config{}, fmt.Errorf("%w: phases %d", ErrInvalidStage, s.Phases)
	}
	return c, nil
}

func (p Preset) validate() error {
	switch {
	case p.Time.Start < 0 || !(p.Time.End > p.Time.Start):
		return fmt.Errorf("%w: time window [%v, %v]", ErrInvalidStage, p.Time.Start, p.Time.End)
	case !positive(p.Time.OutputStep):
		return fmt.Errorf("%w: output step %v", ErrInvalidStage, p.Time.OutputStep)
	case !positive(p.CFL.Number) || p.CFL.Number > 1:
		return fmt.Errorf("%w: cfl %v", ErrInvalidStage, p.CFL.Number)
	case p.CFL.InitialStep < 0:
		return fmt.Errorf("%w: initial step %v", ErrInvalidStage, p.CFL.InitialStep)
	case p.Thresholds.Height < 0 || p.Thresholds.Momentum < 0:
		return fmt.Errorf("%w: negative threshold", ErrInvalidStage)
	case !positive(p.Visualization.Interval):
		return fmt.Errorf("%w: visualization interval %v", ErrInvalidStage, p.Visualization.Interval)
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func (c Config) Kind() Kind                   { return c.kind }
func (c Config) Prefix() string               { return c.prefix }
func (c Config) Resolution() float64          { return c.resolution }
func (c Config) Phases() int                  { return c.phases }
func (c Config) Friction() Friction           { return c.friction }
func (c Config) Time() TimeWindow             { return c.preset.Time }
func (c Config) CFL() CFL                     { return c.preset.CFL }
func (c Config) Thresholds() Thresholds       { return c.preset.Thresholds }
func (c Config) Visualization() Visualization { return c.preset.Visualization }

// Class returns the flow class, or 0 for three-phase configs.
func (c Config) Class() flowclass.Class { return c.class }

// Densities returns a copy of the per-phase densities.
func (c Config) Densities() []float64 {
	return append([]float64(nil), c.densities...)
}

// IsZero reports whether c was never built.
func (c Config) IsZero() bool { return c.kind == "" }
