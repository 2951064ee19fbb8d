package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tractools/pkg/seeds"
	"tractools/pkg/tracking"
)

func newTractographyCommand(ctx *commandContext) *cobra.Command {
	var (
		algorithm       string
		provenance      string
		metricsFile     string
		particles       int
		maxLength       int
		processes       int
		seedsPerProcess int
		stepSize        float64
		maxAngle        float64
		randomSeed      uint64
		force           bool
	)

	cmd := &cobra.Command{
		Use:   "tractography MODEL MASK SEEDS OUTDIR",
		Short: "Track streamlines from seed regions in parallel chunks",
		Long: `Track streamlines through a peak model (mibrain volume) restricted to a
white matter mask. Seeds are split into chunks of --seeds-per-process seeds;
chunk i writes stream_<i>.trk and info_<i>.txt into OUTDIR. Once every chunk
has finished without error the empty file vmgenerator.end is created.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("algorithm") {
				cfg.Tracking.Algorithm = algorithm
			}
			if flags.Changed("provenance") {
				cfg.Tracking.Provenance = provenance
			}
			if flags.Changed("particles") {
				cfg.Tracking.Particles = particles
			}
			if flags.Changed("step-size") {
				cfg.Tracking.StepSize = stepSize
			}
			if flags.Changed("max-length") {
				cfg.Tracking.MaxLength = maxLength
			}
			if flags.Changed("max-angle") {
				cfg.Tracking.MaxAngle = maxAngle
			}
			if flags.Changed("processes") {
				cfg.Tracking.Processes = processes
			}
			if flags.Changed("seeds-per-process") {
				cfg.Tracking.SeedsPerProcess = seedsPerProcess
			}
			if flags.Changed("random-seed") {
				cfg.Tracking.RandomSeed = randomSeed
			}
			if flags.Changed("metrics-file") {
				cfg.Output.MetricsFile = metricsFile
			}

			opts, err := cfg.TrackingOptions()
			if err != nil {
				return err
			}
			opts.ModelFile = args[0]
			opts.MaskFile = args[1]
			opts.OutputDir = args[3]
			opts.Overwrite = force
			if err := opts.Validate(); err != nil {
				return err
			}

			points, infos, err := seeds.Load(args[2])
			if err != nil {
				return fmt.Errorf("failed to load seeds: %w", err)
			}

			dispatcher := tracking.NewDispatcher(opts, ctx.logger(cmd, "tracking"), nil)
			report, runErr := dispatcher.Run(cmd.Context(), points, infos)

			if path := strings.TrimSpace(cfg.Output.MetricsFile); path != "" && report != nil {
				if err := dispatcher.Metrics().WriteTextfile(path); err != nil {
					return fmt.Errorf("failed to write metrics: %w", err)
				}
			}
			if report != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderChunkTable(report))
				fmt.Fprintf(out, "Run %s: %d written, %d skipped, %d failed in %s\n",
					report.RunID,
					report.Count(tracking.StatusWritten),
					report.Count(tracking.StatusSkipped),
					report.Count(tracking.StatusFailed),
					report.Duration.Round(time.Millisecond))
			}
			return runErr
		},
	}

	defaults := tracking.DefaultOptions()
	cmd.Flags().StringVar(&algorithm, "algorithm", defaults.Algorithm.String(), "Direction getter: probabilistic or deterministic")
	cmd.Flags().IntVar(&particles, "particles", defaults.Particles, "Tracking attempts per seed point")
	cmd.Flags().Float64Var(&stepSize, "step-size", defaults.StepSize, "Step length in mm")
	cmd.Flags().IntVar(&maxLength, "max-length", defaults.MaxLength, "Maximum number of steps in each direction")
	cmd.Flags().Float64Var(&maxAngle, "max-angle", defaults.MaxAngle, "Maximum turning angle between steps, in degrees")
	cmd.Flags().IntVarP(&processes, "processes", "p", 0, "Chunks tracked in parallel (default: one per CPU)")
	cmd.Flags().IntVar(&seedsPerProcess, "seeds-per-process", defaults.SeedsPerProcess, "Seeds assigned to each chunk")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing stream_<i>.trk files")
	cmd.Flags().StringVar(&provenance, "provenance", defaults.Provenance.String(), "Rows written to info_<i>.txt: kept or attempts")
	cmd.Flags().Uint64Var(&randomSeed, "random-seed", 0, "Seed of the probabilistic direction sampler")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics of the run to this textfile")
	return cmd
}
