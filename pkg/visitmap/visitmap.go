// Package visitmap rasterizes streamlines into visitation-count volumes.
package visitmap

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tractools/internal/models"
	"tractools/pkg/geometry"
)

// ErrEmptyVisitMap is returned when a transform needs the map maximum but no
// streamline point fell inside the reference grid.
var ErrEmptyVisitMap = errors.New("visit map is empty")

// Mode selects the post-processing applied to the raw counts.
type Mode int

const (
	// Counts keeps the raw visit counts.
	Counts Mode = iota
	// Log maps counts to log(c+1) / log(max(c+1)).
	Log
	// Normalize divides the counts by their maximum.
	Normalize
	// Binary marks every visited voxel with 1.
	Binary
)

func (m Mode) String() string {
	switch m {
	case Counts:
		return "counts"
	case Log:
		return "log"
	case Normalize:
		return "normalize"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// SelectMode returns the mode for the command line switches. When several
// are set the first of log, normalize and binary wins.
func SelectMode(log, normalize, binary bool) Mode {
	switch {
	case log:
		return Log
	case normalize:
		return Normalize
	case binary:
		return Binary
	default:
		return Counts
	}
}

// Stats describes one accumulation.
type Stats struct {
	Streamlines int
	Points      int
	// OutOfBounds counts points that fell outside the grid and were skipped
	OutOfBounds int
}

// Accumulate counts, for every voxel of a grid of the given shape, the
// streamline points that fall in it. Points are in voxel coordinates and are
// floored to voxel indices. With unique set, a streamline adds at most one
// to each voxel it crosses.
func Accumulate(shape [3]int, affine models.Affine, streamlines []models.Streamline, unique bool) (*models.Volume, Stats) {
	vol := models.NewVolume(shape[:], affine)
	stats := Stats{Streamlines: len(streamlines)}

	var seen map[int]struct{}
	if unique {
		seen = make(map[int]struct{})
	}
	for _, s := range streamlines {
		clear(seen)
		for _, p := range s {
			stats.Points++
			x, y, z := int(math.Floor(p.X)), int(math.Floor(p.Y)), int(math.Floor(p.Z))
			if !vol.Contains(x, y, z) {
				stats.OutOfBounds++
				continue
			}
			idx := vol.Index(x, y, z, 0)
			if unique {
				if _, ok := seen[idx]; ok {
					continue
				}
				seen[idx] = struct{}{}
			}
			vol.Data[idx]++
		}
	}
	return vol, stats
}

// ToVoxelSpace maps world-space streamlines into the voxel grid of affine.
func ToVoxelSpace(affine models.Affine, streamlines []models.Streamline) ([]models.Streamline, error) {
	inv, err := geometry.Inverse(affine)
	if err != nil {
		return nil, fmt.Errorf("reference affine: %w", err)
	}
	return geometry.Transform(inv, streamlines), nil
}

// Apply transforms the counts in place according to mode.
func Apply(vol *models.Volume, mode Mode) error {
	switch mode {
	case Counts:
		return nil
	case Binary:
		for i, v := range vol.Data {
			if v > 0 {
				vol.Data[i] = 1
			} else {
				vol.Data[i] = 0
			}
		}
		return nil
	}

	if len(vol.Data) == 0 {
		return ErrEmptyVisitMap
	}
	peak := floats.Max(vol.Data)
	if peak <= 0 {
		return ErrEmptyVisitMap
	}

	switch mode {
	case Log:
		denom := math.Log(peak + 1)
		for i, v := range vol.Data {
			vol.Data[i] = math.Log(v+1) / denom
		}
	case Normalize:
		for i, v := range vol.Data {
			vol.Data[i] = v / peak
		}
	default:
		return fmt.Errorf("unsupported visit map mode %v", mode)
	}
	return nil
}

// Compute builds the visit map of world-space streamlines on the grid of
// ref. Only the first three dimensions of ref are used.
func Compute(ref *models.Volume, streamlines []models.Streamline, mode Mode, unique bool) (*models.Volume, Stats, error) {
	voxels, err := ToVoxelSpace(ref.Affine, streamlines)
	if err != nil {
		return nil, Stats{}, err
	}
	vol, stats := Accumulate(ref.Shape(), ref.Affine, voxels, unique)
	vol.VoxelSize = ref.VoxelSize
	if err := Apply(vol, mode); err != nil {
		return nil, stats, err
	}
	return vol, stats, nil
}

// Summary holds descriptive statistics over the visited voxels.
type Summary struct {
	Visited int
	Max     float64
	Mean    float64
	StdDev  float64
}

// Summarize computes statistics over the non-zero voxels of vol.
func Summarize(vol *models.Volume) Summary {
	var visited []float64
	for _, v := range vol.Data {
		if v != 0 {
			visited = append(visited, v)
		}
	}
	if len(visited) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(visited, nil)
	if len(visited) == 1 {
		std = 0
	}
	return Summary{
		Visited: len(visited),
		Max:     floats.Max(visited),
		Mean:    mean,
		StdDev:  std,
	}
}
