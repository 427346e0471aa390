package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	service "github.com/okian/runout/internal/app"
	"github.com/okian/runout/internal/domain/hydrograph"
	"github.com/spf13/cobra"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var req service.Request
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one coarse to fine instance and wait for it",
		Long: `Runs a single instance synchronously: scale the hydrograph, run the coarse
stage, extract and dilate the footprint, clip the fine DEM and run the fine
stage. The run is recorded in the ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			svc, ledger, err := newService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeLedger(cmd.Context(), ledger)

			out, err := svc.Run(cmd.Context(), req)
			if out.Request.RunID != "" {
				printOutcomes(cmd.OutOrStdout(), []service.Outcome{out})
			}
			return err
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id (default: generated)")
	cmd.Flags().StringVar(&req.Class, "class", "", "flow class (default: flow.class)")
	cmd.Flags().Float64Var(&req.Multiplier, "multiplier", 0, "hydrograph multiplier (default: flow.multiplier)")
	return cmd
}

func newSweepCmd(flags *rootFlags) *cobra.Command {
	var (
		classes     []string
		multipliers []float64
		parallelism int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every class and multiplier combination",
		Long: `Runs the cartesian product of flow classes and hydrograph multipliers in
parallel. Flags override the sweep section of the configuration. Every
instance is planned before any engine call, so an unknown class fails the
sweep before anything runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			if parallelism > 0 {
				cfg.SweepParallelism = parallelism
			}
			spec := service.SweepFromConfig(cfg)
			if cmd.Flags().Changed("class") {
				spec.Classes = classes
			}
			if cmd.Flags().Changed("multiplier") {
				spec.Multipliers = multipliers
			}

			svc, ledger, err := newService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeLedger(cmd.Context(), ledger)

			outcomes, err := svc.Sweep(cmd.Context(), spec)
			printOutcomes(cmd.OutOrStdout(), outcomes)
			if err != nil {
				return err
			}
			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d instances failed", failed, len(outcomes))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&classes, "class", nil, "flow classes to sweep")
	cmd.Flags().Float64SliceVar(&multipliers, "multiplier", nil, "hydrograph multipliers to sweep")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "concurrent instances (default: sweep_parallelism)")
	return cmd
}

func newScaleCmd(flags *rootFlags) *cobra.Command {
	var (
		multiplier  float64
		headerLines int
	)
	cmd := &cobra.Command{
		Use:   "scale SRC DST",
		Short: "Scale the discharge columns of a hydrograph file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("header-lines") {
				headerLines = cfg.Inputs.HeaderLines
			}
			res, rep, err := hydrograph.ScaleFile(args[0], args[1], multiplier, hydrograph.WithHeaderLines(headerLines))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "rows\t%d\n", rep.Rows)
			fmt.Fprintf(w, "skipped\t%d\n", rep.SkippedCount())
			fmt.Fprintf(w, "volume\t%g\n", res.Volume)
			fmt.Fprintf(w, "scaled_volume\t%g\n", res.ScaledVolume)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&multiplier, "multiplier", "m", 1, "discharge multiplier")
	cmd.Flags().IntVar(&headerLines, "header-lines", 1, "leading lines copied verbatim")
	return cmd
}

// printOutcomes writes one tab-aligned line per instance.
func printOutcomes(w io.Writer, outcomes []service.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCLASS\tMULTIPLIER\tSTATE\tENGINE CALLS\tFINE CELLS\tERROR")
	for _, o := range outcomes {
		errText := "-"
		if o.Err != nil {
			errText = o.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%g\t%s\t%d\t%d\t%s\n",
			o.Request.RunID, o.Class, o.Report.Multiplier, o.Report.State,
			o.Report.EngineCalls, o.Report.FineFlowCells, errText)
	}
	_ = tw.Flush()
}
