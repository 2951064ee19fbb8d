package csd

import (
	"fmt"

	"tractools/internal/models"
)

// Peaks holds the peak directions, shaped (X, Y, Z, K, 3), and the peak
// values, shaped (X, Y, Z, K), of a fitted model.
type Peaks struct {
	Dirs   *models.Volume
	Values *models.Volume
}

// NewPeaks checks that dirs and values describe the same K peaks on the
// same grid.
func NewPeaks(dirs, values *models.Volume) (*Peaks, error) {
	if len(dirs.Dims) != 5 || dirs.Dims[4] != 3 {
		return nil, fmt.Errorf("peak directions must be shaped (X, Y, Z, K, 3), got %v", dirs.Dims)
	}
	if len(values.Dims) != 4 && !(len(values.Dims) == 3 && dirs.Dims[3] == 1) {
		return nil, fmt.Errorf("peak values must be shaped (X, Y, Z, K), got %v", values.Dims)
	}
	if dirs.Shape() != values.Shape() || dirs.Dims[3] != values.Components() {
		return nil, fmt.Errorf("peak directions %v and values %v disagree", dirs.Dims, values.Dims)
	}
	return &Peaks{Dirs: dirs, Values: values}, nil
}

// Count returns K, the number of peaks stored per voxel.
func (p *Peaks) Count() int { return p.Dirs.Dims[3] }

// dir returns component c of peak k at flat voxel index vox.
func (p *Peaks) dir(vox, k, c int) float64 {
	n := p.Dirs.NumVoxels()
	return p.Dirs.Data[vox+n*(k+p.Count()*c)]
}

// Normalize divides every peak value by the largest value of its voxel.
// Voxels without a positive peak are left untouched.
func (p *Peaks) Normalize() {
	nvox := p.Values.NumVoxels()
	k := p.Count()
	for vox := 0; vox < nvox; vox++ {
		peak := 0.0
		for j := 0; j < k; j++ {
			peak = max(peak, p.Values.Data[vox+nvox*j])
		}
		if peak <= 0 {
			continue
		}
		for j := 0; j < k; j++ {
			p.Values.Data[vox+nvox*j] /= peak
		}
	}
}

// Mibrain combines directions and values into one (X, Y, Z, 3K) volume
// whose components 3k, 3k+1, 3k+2 hold peak k scaled by its value.
func (p *Peaks) Mibrain() *models.Volume {
	k := p.Count()
	nvox := p.Dirs.NumVoxels()
	out := models.NewVolume([]int{p.Dirs.Dims[0], p.Dirs.Dims[1], p.Dirs.Dims[2], 3 * k}, p.Dirs.Affine)
	out.VoxelSize = p.Dirs.VoxelSize

	for vox := 0; vox < nvox; vox++ {
		for j := 0; j < k; j++ {
			v := p.Values.Data[vox+nvox*j]
			for c := 0; c < 3; c++ {
				out.Data[vox+nvox*(3*j+c)] = p.dir(vox, j, c) * v
			}
		}
	}
	return out
}
