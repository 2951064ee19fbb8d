package models

import (
	"fmt"
)

// Affine is a 4x4 homogeneous transform mapping voxel indices to world
// coordinates in millimeters. Rows are indexed first.
type Affine [4][4]float64

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Volume represents an N-dimensional image loaded from disk
type Volume struct {
	// Data holds the voxel values in file order: x varies fastest,
	// then y, z and any further dimension
	Data []float64

	// Dims holds the size of each dimension, at least three entries
	Dims []int

	// Affine maps voxel indices to world coordinates
	Affine Affine

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zero-filled volume with the given dimensions.
// Missing spatial dimensions are padded with 1.
func NewVolume(dims []int, affine Affine) *Volume {
	d := make([]int, 0, len(dims))
	d = append(d, dims...)
	for len(d) < 3 {
		d = append(d, 1)
	}
	n := 1
	for _, v := range d {
		n *= v
	}
	vol := &Volume{
		Data:   make([]float64, n),
		Dims:   d,
		Affine: affine,
	}
	vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = 1, 1, 1
	return vol
}

// Shape returns the three spatial dimensions.
func (v *Volume) Shape() [3]int {
	return [3]int{v.Dims[0], v.Dims[1], v.Dims[2]}
}

// Components returns the number of values stored per voxel, i.e. the product
// of every dimension beyond the third.
func (v *Volume) Components() int {
	c := 1
	for _, d := range v.Dims[3:] {
		c *= d
	}
	return c
}

// NumVoxels returns the number of spatial voxels.
func (v *Volume) NumVoxels() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// Contains reports whether the voxel index lies inside the spatial grid.
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Dims[0] && y < v.Dims[1] && z < v.Dims[2]
}

// Index returns the flat index of component c at voxel (x, y, z).
func (v *Volume) Index(x, y, z, c int) int {
	return x + v.Dims[0]*(y+v.Dims[1]*(z+v.Dims[2]*c))
}

// At returns component c at voxel (x, y, z).
func (v *Volume) At(x, y, z, c int) float64 {
	return v.Data[v.Index(x, y, z, c)]
}

// Validate checks that the data length matches the dimensions.
func (v *Volume) Validate() error {
	if len(v.Dims) < 3 {
		return fmt.Errorf("volume needs at least 3 dimensions, got %d", len(v.Dims))
	}
	n := 1
	for i, d := range v.Dims {
		if d <= 0 {
			return fmt.Errorf("dimension %d has invalid size %d", i, d)
		}
		n *= d
	}
	if n != len(v.Data) {
		return fmt.Errorf("volume data has %d values, dimensions %v need %d", len(v.Data), v.Dims, n)
	}
	return nil
}
