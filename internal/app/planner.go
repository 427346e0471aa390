package service

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/okian/runout/internal/config"
	"github.com/okian/runout/internal/domain/flowclass"
	"github.com/okian/runout/internal/domain/footprint"
	"github.com/okian/runout/internal/domain/stage"
	"github.com/okian/runout/internal/workflow"
)

// ThreePhaseLabel is the class label recorded for three-phase runs.
const ThreePhaseLabel = "three_phase"

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Request asks for one workflow instance. Zero values fall back to the
// configured flow class and multiplier.
type Request struct {
	RunID      string  `json:"run_id,omitempty"`
	Class      string  `json:"class,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
}

// Planner turns requests into validated workflow plans.
type Planner struct {
	cfg config.Config
}

// NewPlanner copies cfg; later changes to cfg do not affect the planner.
func NewPlanner(cfg *config.Config) *Planner {
	return &Planner{cfg: *cfg}
}

// Config returns the planner's configuration.
func (p *Planner) Config() config.Config { return p.cfg }

// Plan resolves the flow class and builds both stage configs. It fails
// before any engine call when the class or stage parameters are invalid.
// The returned label names the rheology for the ledger.
func (p *Planner) Plan(req Request) (workflow.Plan, string, error) {
	cfg := p.cfg
	if !runIDPattern.MatchString(req.RunID) {
		return workflow.Plan{}, "", fmt.Errorf("%w: run id %q", ErrInvalidRequest, req.RunID)
	}
	multiplier := req.Multiplier
	if multiplier == 0 {
		multiplier = cfg.Flow.Multiplier
	}

	var (
		class flowclass.Class
		label = ThreePhaseLabel
	)
	if cfg.Flow.Phases == stage.SinglePhase {
		name := req.Class
		if name == "" {
			name = cfg.Flow.Class
		}
		c, err := flowclass.Parse(name)
		if err != nil {
			return workflow.Plan{}, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		class, label = c, c.String()
	}

	coarse, err := stage.Build(p.stageSpec(stage.Coarse, cfg.Coarse, class))
	if err != nil {
		return workflow.Plan{}, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	fine, err := stage.Build(p.stageSpec(stage.Fine, cfg.Fine, class))
	if err != nil {
		return workflow.Plan{}, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	metric, err := footprint.ParseMetric(cfg.Footprint.Metric)
	if err != nil {
		return workflow.Plan{}, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	plan := workflow.Plan{
		RunID:       req.RunID,
		WorkDir:     filepath.Join(cfg.WorkDir, req.RunID),
		CoarseDEM:   cfg.Inputs.CoarseDEM,
		FineDEM:     cfg.Inputs.FineDEM,
		Hydrograph:  cfg.Inputs.Hydrograph,
		Multiplier:  multiplier,
		HeaderLines: cfg.Inputs.HeaderLines,
		Coarse:      coarse,
		Fine:        fine,
		Threshold:   cfg.Footprint.Threshold,
		Radius:      cfg.Footprint.Radius,
		Metric:      metric,
		KeepMasks:   cfg.Footprint.KeepMasks,
	}
	if err := plan.Validate(); err != nil {
		return workflow.Plan{}, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return plan, label, nil
}

func (p *Planner) stageSpec(kind stage.Kind, sc config.StageConfig, class flowclass.Class) stage.Spec {
	f := p.cfg.Flow
	return stage.Spec{
		Kind:       kind,
		Prefix:     sc.Prefix,
		Resolution: sc.Resolution,
		Phases:     f.Phases,
		Class:      class,
		Densities:  f.Densities,
		Friction:   stage.Friction{Internal: f.Friction.Internal, Basal: f.Friction.Basal, Turbulent: f.Friction.Turbulent},
		Preset:     sc.Preset(),
	}
}
