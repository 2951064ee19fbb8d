package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tractools/pkg/config"
	"tractools/pkg/csd"
)

// fitFlags are the response function flags shared by csd and csd-shm.
type fitFlags struct {
	roiCenter   []int
	roiRadius   int
	faThreshold float64
}

func (f *fitFlags) register(flags *pflag.FlagSet) {
	defaults := csd.DefaultParams()
	flags.IntSliceVar(&f.roiCenter, "roi-center", nil, "Voxel x,y,z the response function is estimated around (default: volume center)")
	flags.IntVar(&f.roiRadius, "roi-radius", defaults.ROIRadius, "Radius of the response function ROI, in voxels")
	flags.Float64Var(&f.faThreshold, "fa-threshold", defaults.FAThreshold, "FA above which voxels contribute to the response function")
}

// params merges the configuration with the flags set on the command line.
func (f *fitFlags) params(cfg *config.Config, flags *pflag.FlagSet, dwi, bvals, bvecs string) csd.Params {
	p := cfg.CSDParams()
	p.DWIFile, p.BValsFile, p.BVecsFile = dwi, bvals, bvecs
	if flags.Changed("roi-center") {
		p.ROICenter = f.roiCenter
	}
	if flags.Changed("roi-radius") {
		p.ROIRadius = f.roiRadius
	}
	if flags.Changed("fa-threshold") {
		p.FAThreshold = f.faThreshold
	}
	return p
}

func newCSDCommand(ctx *commandContext) *cobra.Command {
	var fit fitFlags
	var (
		shm, peaksDir, peaksVal, mibrain, peakMask string
		npeaks, shOrder                            int
		minSeparation, relThreshold                float64
		normalize                                  bool
	)

	cmd := &cobra.Command{
		Use:   "csd DWI BVALS BVECS",
		Short: "Fit a CSD model and extract its peaks",
		Long: `Fit a constrained spherical deconvolution model to a diffusion volume and
write any of: the SH coefficients, the peak directions, the peak values and
the mibrain volume (peak directions scaled by their values, 3 components per
peak) used as tractography model.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			p := fit.params(cfg, flags, args[0], args[1], args[2])
			p.SHMFile = shm
			p.PeakDirsFile = peaksDir
			p.PeakValsFile = peaksVal
			p.MibrainFile = mibrain
			p.PeakMaskFile = peakMask
			if flags.Changed("npeaks") {
				p.NPeaks = npeaks
			}
			if flags.Changed("sh-order") {
				p.SHOrder = shOrder
			}
			if flags.Changed("min-separation") {
				p.MinSeparation = minSeparation
			}
			if flags.Changed("relative-peak-threshold") {
				p.RelativePeakThreshold = relThreshold
			}
			if flags.Changed("normalize") {
				p.Normalize = normalize
			}
			return runFit(cmd, ctx, p)
		},
	}

	defaults := csd.DefaultParams()
	fit.register(cmd.Flags())
	cmd.Flags().StringVar(&shm, "shm", "", "Output file for the SH coefficients")
	cmd.Flags().StringVar(&peaksDir, "peaks-dir", "", "Output file for the peak directions")
	cmd.Flags().StringVar(&peaksVal, "peaks-val", "", "Output file for the peak values")
	cmd.Flags().StringVar(&mibrain, "mibrain", "", "Output file for the mibrain volume")
	cmd.Flags().StringVar(&peakMask, "peak-mask", "", "Restrict peak extraction to this mask")
	cmd.Flags().IntVar(&npeaks, "npeaks", defaults.NPeaks, "Peaks kept per voxel")
	cmd.Flags().IntVar(&shOrder, "sh-order", defaults.SHOrder, "Spherical harmonics order")
	cmd.Flags().Float64Var(&minSeparation, "min-separation", defaults.MinSeparation, "Minimum angle between peaks, in degrees")
	cmd.Flags().Float64Var(&relThreshold, "relative-peak-threshold", defaults.RelativePeakThreshold, "Drop peaks weaker than this fraction of the strongest one")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Divide peak values by the largest peak of their voxel")
	return cmd
}

func newCSDSHMCommand(ctx *commandContext) *cobra.Command {
	var fit fitFlags

	cmd := &cobra.Command{
		Use:   "csd-shm DWI BVALS BVECS OUTFILE",
		Short: "Fit a CSD model and write its SH coefficients",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			p := fit.params(cfg, cmd.Flags(), args[0], args[1], args[2])
			p.SHMFile = args[3]
			return runFit(cmd, ctx, p)
		},
	}
	fit.register(cmd.Flags())
	return cmd
}

func runFit(cmd *cobra.Command, ctx *commandContext, p csd.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	fitter, err := ctx.newFitter(cmd)
	if err != nil {
		return err
	}
	if err := fitter.Fit(cmd.Context(), p); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, o := range []struct{ name, path string }{
		{"SH coefficients", p.SHMFile},
		{"Peak directions", p.PeakDirsFile},
		{"Peak values", p.PeakValsFile},
		{"Mibrain", p.MibrainFile},
	} {
		if o.path != "" {
			fmt.Fprintf(out, "%s saved to %s\n", o.name, o.path)
		}
	}
	return nil
}
