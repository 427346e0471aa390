// Package config defines runout configuration and its layered loader.
//
// Conventions:
// - Defaults live in New; Load layers a YAML file and environment on top.
// - Nested keys use "." in files and "__" in environment variable names.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"time"

	"github.com/okian/runout/internal/domain/stage"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogJSON switches the logger to JSON output.
	LogJSON bool `koanf:"log_json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WorkDir is the root under which each run gets its own namespace.
	WorkDir string `koanf:"work_dir"`

	// QueueSize bounds the in-memory run queue in serve mode.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets how many workflow instances serve mode runs at once.
	WorkerCount int `koanf:"worker_count"`

	// JobTimeout bounds each queued run in serve mode; zero means no bound.
	JobTimeout time.Duration `koanf:"job_timeout"`

	// SweepParallelism caps concurrent instances of a CLI sweep.
	SweepParallelism int `koanf:"sweep_parallelism"`

	// LedgerPath is the SQLite run ledger; empty keeps runs in memory.
	LedgerPath string `koanf:"ledger_path"`

	// MaxRunsLimit caps GET /runs?limit.
	MaxRunsLimit int `koanf:"max_runs_limit"`

	// Schedule is a cron expression that re-submits the sweep; empty disables it.
	Schedule string `koanf:"schedule"`

	Engine    EngineConfig    `koanf:"engine"`
	Inputs    InputConfig     `koanf:"inputs"`
	Flow      FlowConfig      `koanf:"flow"`
	Footprint FootprintConfig `koanf:"footprint"`
	Coarse    StageConfig     `koanf:"coarse"`
	Fine      StageConfig     `koanf:"fine"`
	Sweep     SweepConfig     `koanf:"sweep"`
}

// EngineConfig locates the external simulation engine.
type EngineConfig struct {
	Binary string   `koanf:"binary"`
	Args   []string `koanf:"args"`
	// Env holds KEY=VALUE entries added to the engine environment.
	Env []string `koanf:"env"`
}

// InputConfig names the input rasters and hydrograph.
type InputConfig struct {
	CoarseDEM   string `koanf:"coarse_dem"`
	FineDEM     string `koanf:"fine_dem"`
	Hydrograph  string `koanf:"hydrograph"`
	HeaderLines int    `koanf:"header_lines"`
}

// FlowConfig selects the rheology. Phases 1 resolves Class through the flow
// class table; phases 3 uses Densities and Friction as given.
type FlowConfig struct {
	Class      string    `koanf:"class"`
	Phases     int       `koanf:"phases"`
	Multiplier float64   `koanf:"multiplier"`
	Densities  []float64 `koanf:"densities"`
	Friction   Friction  `koanf:"friction"`
}

// Friction is the three-phase friction triple.
type Friction struct {
	Internal  float64 `koanf:"internal"`
	Basal     float64 `koanf:"basal"`
	Turbulent float64 `koanf:"turbulent"`
}

// FootprintConfig controls extraction and dilation.
type FootprintConfig struct {
	Threshold float64 `koanf:"threshold"`
	Radius    int     `koanf:"radius"`
	Metric    string  `koanf:"metric"`
	KeepMasks bool    `koanf:"keep_masks"`
}

// StageConfig is the per-stage preset.
type StageConfig struct {
	Prefix       string  `koanf:"prefix"`
	Resolution   float64 `koanf:"resolution"`
	TimeEnd      float64 `koanf:"time_end"`
	OutputStep   float64 `koanf:"output_step"`
	CFL          float64 `koanf:"cfl"`
	InitialStep  float64 `koanf:"initial_step"`
	MinHeight    float64 `koanf:"min_height"`
	MinMomentum  float64 `koanf:"min_momentum"`
	VizInterval  float64 `koanf:"viz_interval"`
	VizMaxHeight float64 `koanf:"viz_max_height"`
}

// SweepConfig lists the parameter sweep. Empty lists fall back to the
// single flow class and multiplier of FlowConfig.
type SweepConfig struct {
	Classes     []string  `koanf:"classes"`
	Multipliers []float64 `koanf:"multipliers"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		Addr:             ":9080",
		WorkDir:          "runs",
		QueueSize:        64,
		WorkerCount:      runtime.NumCPU(),
		SweepParallelism: runtime.NumCPU(),
		LedgerPath:       "runout.db",
		MaxRunsLimit:     100,
		Inputs: InputConfig{
			HeaderLines: 1,
		},
		Flow: FlowConfig{
			Class:      "debris_flow",
			Phases:     stage.SinglePhase,
			Multiplier: 1.0,
			Densities:  []float64{2700, 1800, 1000},
			Friction:   Friction{Internal: 35, Basal: 20, Turbulent: -3},
		},
		Footprint: FootprintConfig{
			Threshold: 0.01,
			Radius:    2,
			Metric:    "euclidean",
		},
		Coarse: StageConfig{
			Prefix:       "coarse",
			Resolution:   10,
			TimeEnd:      3600,
			OutputStep:   60,
			CFL:          0.4,
			InitialStep:  0.1,
			MinHeight:    0.01,
			MinMomentum:  0.01,
			VizInterval:  300,
			VizMaxHeight: 5,
		},
		Fine: StageConfig{
			Prefix:       "fine",
			Resolution:   2,
			TimeEnd:      3600,
			OutputStep:   30,
			CFL:          0.4,
			InitialStep:  0.05,
			MinHeight:    0.005,
			MinMomentum:  0.005,
			VizInterval:  60,
			VizMaxHeight: 5,
		},
	}
}

// Preset converts the stage section into the domain preset.
func (s StageConfig) Preset() stage.Preset {
	return stage.Preset{
		Time:          stage.TimeWindow{Start: 0, End: s.TimeEnd, OutputStep: s.OutputStep},
		CFL:           stage.CFL{Number: s.CFL, InitialStep: s.InitialStep},
		Thresholds:    stage.Thresholds{Height: s.MinHeight, Momentum: s.MinMomentum},
		Visualization: stage.Visualization{Interval: s.VizInterval, MaxHeight: s.VizMaxHeight},
	}
}
