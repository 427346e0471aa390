package main

import (
	"context"
	"fmt"
	"os"

	"github.com/okian/runout/internal/adapters/repository"
	service "github.com/okian/runout/internal/app"
	"github.com/okian/runout/internal/config"
	"github.com/okian/runout/internal/engine"
	"github.com/okian/runout/pkg/logger"
	"github.com/spf13/cobra"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "runout",
		Short: "Two-stage coarse to fine runout simulations",
		Long: `Runs a terrain-flow engine over a coarse DEM, extracts the flow footprint,
clips the fine DEM to it and reruns the engine at fine resolution.

Configuration is read from the file named by --config (or RUNOUT_CONFIG)
and overridden by RUNOUT_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newRunCmd(flags),
		newSweepCmd(flags),
		newScaleCmd(flags),
		newServeCmd(flags),
	)
	return root
}

// setup loads configuration and initializes logging for a subcommand.
func setup(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.Load(cmd.Context())
	}
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.WithJSON(cfg.LogJSON), logger.WithWriter(cmd.ErrOrStderr())); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	if err := logger.SetLevelString(level); err != nil {
		logger.Get().Warn(cmd.Context(), "invalid log_level; falling back to info", logger.String("log_level", level), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

// newEngine builds the external engine runner from configuration.
func newEngine(cfg *config.Config) (*engine.Exec, error) {
	return engine.NewExec(cfg.Engine.Binary,
		engine.WithBaseArgs(cfg.Engine.Args...),
		engine.WithEnv(cfg.Engine.Env...),
		engine.WithLogger(logger.Get().Named("engine")),
	)
}

// openLedger opens the SQLite ledger, or an in-memory one when no path is set.
func openLedger(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.LedgerPath == "" {
		return repository.NewMemoryStore(), nil
	}
	return repository.NewSQLiteStore(ctx, cfg.LedgerPath, repository.WithLogger(logger.Get().Named("ledger")))
}

// newService wires planner, engine and ledger into a Service.
func newService(ctx context.Context, cfg *config.Config, opts ...service.Option) (*service.Service, repository.Store, error) {
	eng, err := newEngine(cfg)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	base := []service.Option{
		service.WithLogger(logger.Get().Named("service")),
		service.WithLedger(ledger),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithJobTimeout(cfg.JobTimeout),
		service.WithParallelism(cfg.SweepParallelism),
	}
	return service.New(service.NewPlanner(cfg), eng, append(base, opts...)...), ledger, nil
}

func closeLedger(ctx context.Context, ledger repository.Store) {
	if err := ledger.Close(); err != nil {
		logger.Get().Error(ctx, "close ledger", logger.Error(err))
	}
}
