// Package geometry applies voxel/world affine transforms to points and
// streamlines.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
)

// Inverse returns the inverse of a 4x4 affine.
func Inverse(a models.Affine) (models.Affine, error) {
	m := mat.NewDense(4, 4, flatten(a))

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return models.Affine{}, fmt.Errorf("affine is not invertible: %w", err)
	}

	var out models.Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	return out, nil
}

// Apply maps p through the affine.
func Apply(a models.Affine, p r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0][0]*p.X + a[0][1]*p.Y + a[0][2]*p.Z + a[0][3],
		Y: a[1][0]*p.X + a[1][1]*p.Y + a[1][2]*p.Z + a[1][3],
		Z: a[2][0]*p.X + a[2][1]*p.Y + a[2][2]*p.Z + a[2][3],
	}
}

// Transform returns a copy of the streamlines with every point mapped
// through the affine.
func Transform(a models.Affine, streamlines []models.Streamline) []models.Streamline {
	out := make([]models.Streamline, len(streamlines))
	for i, s := range streamlines {
		t := make(models.Streamline, len(s))
		for j, p := range s {
			t[j] = Apply(a, p)
		}
		out[i] = t
	}
	return out
}

// Zooms returns the voxel sizes encoded in the affine, i.e. the norms of
// its first three columns.
func Zooms(a models.Affine) [3]float64 {
	var z [3]float64
	for j := 0; j < 3; j++ {
		z[j] = math.Sqrt(a[0][j]*a[0][j] + a[1][j]*a[1][j] + a[2][j]*a[2][j])
	}
	return z
}

// Scaling returns a diagonal affine with the given voxel sizes.
func Scaling(zooms [3]float64) models.Affine {
	a := models.Identity()
	for i := 0; i < 3; i++ {
		a[i][i] = zooms[i]
	}
	return a
}

func flatten(a models.Affine) []float64 {
	data := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		data = append(data, a[i][:]...)
	}
	return data
}
