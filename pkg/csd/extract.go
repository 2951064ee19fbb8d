package csd

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
)

// sphereLevel gives a sampling sphere of 1026 directions.
const sphereLevel = 4

// PeakOptions controls peak extraction from SH coefficients.
type PeakOptions struct {
	// RelativeThreshold drops maxima below this fraction of the largest one,
	// measured above the ODF minimum
	RelativeThreshold float64
	// MinSeparation is in degrees; of two closer maxima the weaker is dropped
	MinSeparation float64
	NPeaks        int
	// Workers bounds the number of z slices processed at once. Zero or less
	// means one per CPU.
	Workers int
}

// ExtractPeaks samples the ODF encoded by the SH coefficients of every
// voxel and keeps its NPeaks strongest maxima. Voxels outside mask, when it
// is non nil, or without a positive maximum get no peaks. Peak values are
// raw ODF amplitudes.
func ExtractPeaks(ctx context.Context, shm, mask *models.Volume, opts PeakOptions) (*Peaks, error) {
	if opts.NPeaks <= 0 {
		return nil, fmt.Errorf("npeaks must be positive, got %d", opts.NPeaks)
	}
	order, err := shOrder(shm.Components())
	if err != nil {
		return nil, err
	}
	if mask != nil && mask.Shape() != shm.Shape() {
		return nil, fmt.Errorf("peak mask shape %v does not match model shape %v", mask.Shape(), shm.Shape())
	}

	sphere := NewGeodesicSphere(sphereLevel)
	basis := shBasis(order, sphere.Vertices)
	shape := shm.Shape()
	k := opts.NPeaks

	dirs := models.NewVolume([]int{shape[0], shape[1], shape[2], k, 3}, shm.Affine)
	dirs.VoxelSize = shm.VoxelSize
	values := models.NewVolume([]int{shape[0], shape[1], shape[2], k}, shm.Affine)
	values.VoxelSize = shm.VoxelSize

	nvox := shm.NumVoxels()
	ncoef := shm.Components()
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for z := 0; z < shape[2]; z++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			coef := mat.NewVecDense(ncoef, nil)
			odf := mat.NewVecDense(len(sphere.Vertices), nil)
			for y := 0; y < shape[1]; y++ {
				for x := 0; x < shape[0]; x++ {
					vox := shm.Index(x, y, z, 0)
					if mask != nil && mask.Data[vox] == 0 {
						continue
					}
					for c := 0; c < ncoef; c++ {
						coef.SetVec(c, shm.Data[vox+nvox*c])
					}
					odf.MulVec(basis, coef)

					pd, pv := peakDirections(odf.RawVector().Data, sphere, opts.RelativeThreshold, opts.MinSeparation)
					for j := 0; j < len(pv) && j < k; j++ {
						values.Data[vox+nvox*j] = pv[j]
						dirs.Data[vox+nvox*(j+k*0)] = pd[j].X
						dirs.Data[vox+nvox*(j+k*1)] = pd[j].Y
						dirs.Data[vox+nvox*(j+k*2)] = pd[j].Z
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewPeaks(dirs, values)
}

// peakDirections finds the maxima of an ODF sampled on sphere, strongest
// first. Antipodal directions count as the same direction.
func peakDirections(odf []float64, sphere *Sphere, relThreshold, minSeparation float64) ([]r3.Vec, []float64) {
	idx := localMaxima(odf, sphere)
	if len(idx) == 0 {
		return nil, nil
	}
	sort.SliceStable(idx, func(i, j int) bool { return odf[idx[i]] > odf[idx[j]] })
	if odf[idx[0]] <= 0 {
		return nil, nil
	}

	odfMin := max(floats.Min(odf), 0)
	cut := relThreshold * (odf[idx[0]] - odfMin)
	n := 1
	for n < len(idx) && odf[idx[n]]-odfMin >= cut {
		n++
	}

	cosMax := math.Cos(minSeparation * math.Pi / 180)
	var dirs []r3.Vec
	var vals []float64
	for _, i := range idx[:n] {
		v := sphere.Vertices[i]
		similar := false
		for _, d := range dirs {
			if math.Abs(r3.Dot(v, d)) > cosMax {
				similar = true
				break
			}
		}
		if !similar {
			dirs = append(dirs, v)
			vals = append(vals, odf[i])
		}
	}
	return dirs, vals
}

// localMaxima returns the vertices no neighbor of which has a larger value,
// in vertex order.
func localMaxima(odf []float64, sphere *Sphere) []int {
	var idx []int
	for i, nb := range sphere.Neighbors {
		isMax := true
		for _, j := range nb {
			if odf[j] > odf[i] {
				isMax = false
				break
			}
		}
		if isMax {
			idx = append(idx, i)
		}
	}
	return idx
}
