package csd

import (
	apperrors "tractools/internal/errors"
)

// Params describes one CSD fit and the outputs to produce from it. Output
// paths left empty are not written.
type Params struct {
	DWIFile   string
	BValsFile string
	BVecsFile string

	SHMFile      string
	PeakDirsFile string
	PeakValsFile string
	MibrainFile  string
	PeakMaskFile string

	// ROICenter is the voxel the response function is estimated around;
	// nil means the volume center
	ROICenter   []int
	ROIRadius   int
	FAThreshold float64

	SHOrder               int
	RelativePeakThreshold float64
	// MinSeparation is the smallest angle, in degrees, between two peaks
	MinSeparation float64
	NPeaks        int
	// Normalize divides peak values by the largest peak of their voxel
	Normalize bool
}

// DefaultParams returns the fitting parameters used when nothing else is
// configured.
func DefaultParams() Params {
	return Params{
		ROIRadius:             10,
		FAThreshold:           0.75,
		SHOrder:               6,
		RelativePeakThreshold: 0.5,
		MinSeparation:         30,
		NPeaks:                5,
	}
}

// WantsPeaks reports whether any peak derived output is requested.
func (p Params) WantsPeaks() bool {
	return p.PeakDirsFile != "" || p.PeakValsFile != "" || p.MibrainFile != ""
}

// Validate checks the parameters before any computation.
func (p Params) Validate() error {
	switch {
	case p.ROICenter != nil && len(p.ROICenter) != 3:
		return apperrors.NewValidationError("roi-center", "should be a 3-D position, got %d values", len(p.ROICenter))
	case p.DWIFile == "":
		return apperrors.NewValidationError("dwi", "a diffusion volume is required")
	case p.BValsFile == "" || p.BVecsFile == "":
		return apperrors.NewValidationError("gradients", "bvals and bvecs files are required")
	case p.SHMFile == "" && !p.WantsPeaks():
		return apperrors.NewValidationError("outputs", "at least one of shm, peak dirs, peak values or mibrain must be requested")
	case p.ROIRadius <= 0:
		return apperrors.NewValidationError("roi-radius", "must be positive, got %d", p.ROIRadius)
	case p.FAThreshold <= 0 || p.FAThreshold > 1:
		return apperrors.NewValidationError("fa-threshold", "must be in (0, 1], got %g", p.FAThreshold)
	case p.SHOrder <= 0 || p.SHOrder%2 != 0:
		return apperrors.NewValidationError("sh-order", "must be a positive even number, got %d", p.SHOrder)
	case p.NPeaks <= 0:
		return apperrors.NewValidationError("npeaks", "must be positive, got %d", p.NPeaks)
	case p.RelativePeakThreshold <= 0 || p.RelativePeakThreshold > 1:
		return apperrors.NewValidationError("relative-peak-threshold", "must be in (0, 1], got %g", p.RelativePeakThreshold)
	case p.MinSeparation < 0 || p.MinSeparation > 90:
		return apperrors.NewValidationError("min-separation", "must be in [0, 90], got %g", p.MinSeparation)
	}
	return nil
}
