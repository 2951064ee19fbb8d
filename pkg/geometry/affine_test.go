package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
)

func TestInverseRoundTrip(t *testing.T) {
	a := models.Affine{
		{-2, 0, 0, 90},
		{0, 2, 0, -126},
		{0, 0, 2, -72},
		{0, 0, 0, 1},
	}

	inv, err := Inverse(a)
	require.NoError(t, err)

	p := r3.Vec{X: 10, Y: 20, Z: 30}
	world := Apply(a, p)
	assert.Equal(t, r3.Vec{X: 70, Y: -86, Z: -12}, world)

	back := Apply(inv, world)
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
	assert.InDelta(t, p.Z, back.Z, 1e-9)
}

func TestInverseSingular(t *testing.T) {
	var a models.Affine
	_, err := Inverse(a)
	assert.Error(t, err)
}

func TestZooms(t *testing.T) {
	a := models.Affine{
		{0, 0, 1.5, 0},
		{-2, 0, 0, 0},
		{0, 3, 0, 0},
		{0, 0, 0, 1},
	}
	z := Zooms(a)
	assert.Equal(t, [3]float64{2, 3, 1.5}, z)
}

func TestTransformCopies(t *testing.T) {
	in := []models.Streamline{{{X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}}}
	out := Transform(Scaling([3]float64{2, 2, 2}), in)

	require.Len(t, out, 1)
	assert.Equal(t, r3.Vec{X: 4, Y: 4, Z: 4}, out[0][1])
	assert.Equal(t, r3.Vec{X: 2, Y: 2, Z: 2}, in[0][1], "input must not be modified")
	assert.False(t, math.IsNaN(out[0][0].X))
}
