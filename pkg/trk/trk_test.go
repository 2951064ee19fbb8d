package trk

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tractools/internal/models"
)

func TestHeaderSize(t *testing.T) {
	assert.Equal(t, headerSize, binary.Size(Header{}))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	affine := models.Affine{
		{-2, 0, 0, 90},
		{0, 2, 0, -126},
		{0, 0, 2, -72},
		{0, 0, 0, 1},
	}
	in := &Tractogram{
		Streamlines: []models.Streamline{
			{{X: 80, Y: -100, Z: -50}, {X: 79, Y: -99, Z: -49}, {X: 78, Y: -98, Z: -48}},
			{{X: 10, Y: 10, Z: 10}, {X: 12, Y: 10, Z: 10}},
		},
		Affine:    affine,
		Dims:      [3]int{91, 109, 91},
		VoxelSize: [3]float64{2, 2, 2},
	}

	for _, name := range []string{"stream.trk", "stream.trk.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Save(path, in))

			out, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, in.Dims, out.Dims)
			assert.Equal(t, in.VoxelSize, out.VoxelSize)
			assert.Equal(t, in.Affine, out.Affine)
			require.Len(t, out.Streamlines, len(in.Streamlines))
			for i := range in.Streamlines {
				require.Len(t, out.Streamlines[i], len(in.Streamlines[i]))
				for j, p := range in.Streamlines[i] {
					q := out.Streamlines[i][j]
					assert.InDelta(t, p.X, q.X, 1e-4)
					assert.InDelta(t, p.Y, q.Y, 1e-4)
					assert.InDelta(t, p.Z, q.Z, 1e-4)
				}
			}
		})
	}
}

func TestVoxmmConvention(t *testing.T) {
	// voxel (0,0,0) of a 2mm grid is stored at voxmm (1,1,1)
	path := filepath.Join(t.TempDir(), "one.trk")
	in := &Tractogram{
		Streamlines: []models.Streamline{{{X: 0, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0}}},
		Affine: models.Affine{
			{2, 0, 0, 0},
			{0, 2, 0, 0},
			{0, 0, 2, 0},
			{0, 0, 0, 1},
		},
		Dims: [3]int{4, 4, 4},
	}
	require.NoError(t, Save(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, headerSize+4+2*12)

	first := raw[headerSize+4:]
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw[headerSize:]))
	assert.Equal(t, float32(1), float32frombytes(first[0:4]))
	assert.Equal(t, float32(3), float32frombytes(first[12:16]))
}

func TestLoadEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.trk")
	require.NoError(t, Save(path, &Tractogram{Affine: models.Identity(), Dims: [3]int{1, 1, 1}}))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, out.Streamlines)
	assert.Equal(t, [3]float64{1, 1, 1}, out.VoxelSize)
}

func TestLoadRejectsNonTrackVis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.trk")
	require.NoError(t, os.WriteFile(path, make([]byte, headerSize), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func float32frombytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
