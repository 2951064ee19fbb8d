package visitmap

import (
	"fmt"

	"github.com/rs/zerolog"

	"tractools/pkg/nifti"
	"tractools/pkg/trk"
	"tractools/pkg/visualization"
)

// Options configures Generate.
type Options struct {
	ReferenceFile   string
	StreamlinesFile string
	OutputFile      string
	Mode            Mode
	// Unique counts each streamline at most once per voxel
	Unique bool
	// PreviewDir, when set, receives JPEG slices of the map along each axis
	PreviewDir string
}

// Result reports what Generate produced.
type Result struct {
	Stats   Stats
	Summary Summary
	DType   nifti.DataType
}

// OutputType returns the datatype a map of the given mode is stored as.
func OutputType(mode Mode) nifti.DataType {
	if mode == Binary {
		return nifti.Uint8
	}
	return nifti.Float32
}

// Generate loads the reference volume and the streamlines, computes the
// visit map and saves it with the reference header.
func Generate(opts Options, logger zerolog.Logger) (*Result, error) {
	ref, hdr, err := nifti.Load(opts.ReferenceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference: %w", err)
	}
	tractogram, err := trk.Load(opts.StreamlinesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load streamlines: %w", err)
	}
	shape := ref.Shape()
	logger.Debug().
		Int("streamlines", len(tractogram.Streamlines)).
		Ints("shape", shape[:]).
		Str("mode", opts.Mode.String()).
		Msg("Computing visit map")

	vol, stats, err := Compute(ref, tractogram.Streamlines, opts.Mode, opts.Unique)
	if err != nil {
		return nil, err
	}
	if stats.OutOfBounds > 0 {
		logger.Warn().
			Int("points", stats.OutOfBounds).
			Int("total", stats.Points).
			Msg("Skipped streamline points outside the reference grid")
	}

	res := &Result{Stats: stats, Summary: Summarize(vol), DType: OutputType(opts.Mode)}
	if err := nifti.Save(opts.OutputFile, vol, hdr, res.DType); err != nil {
		return nil, fmt.Errorf("failed to save visit map: %w", err)
	}
	logger.Info().
		Int("visited", res.Summary.Visited).
		Float64("max", res.Summary.Max).
		Float64("mean", res.Summary.Mean).
		Float64("std", res.Summary.StdDev).
		Str("output", opts.OutputFile).
		Msg("Visit map written")

	if opts.PreviewDir != "" {
		viewer, err := visualization.NewViewer(vol)
		if err != nil {
			return nil, err
		}
		for _, axis := range []string{"x", "y", "z"} {
			if err := viewer.SaveSliceSequence(axis, opts.PreviewDir); err != nil {
				return nil, fmt.Errorf("failed to write %s previews: %w", axis, err)
			}
		}
		logger.Debug().Str("dir", opts.PreviewDir).Msg("Previews written")
	}
	return res, nil
}
