package visitmap

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
	"tractools/pkg/nifti"
	"tractools/pkg/trk"
)

var grid = [3]int{4, 4, 4}

func line(pts ...r3.Vec) models.Streamline { return models.Streamline(pts) }

func TestAccumulate(t *testing.T) {
	streamlines := []models.Streamline{
		line(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{X: 1.2, Y: 0.1, Z: 0.9}, r3.Vec{X: 1.9, Y: 0.9, Z: 0.0}),
		line(r3.Vec{X: 1.0, Y: 0.0, Z: 0.0}, r3.Vec{X: 3.99, Y: 3.99, Z: 3.99}),
		line(r3.Vec{X: -0.01, Y: 0, Z: 0}, r3.Vec{X: 4, Y: 0, Z: 0}),
	}

	vol, stats := Accumulate(grid, models.Identity(), streamlines, false)
	assert.Equal(t, []int{4, 4, 4}, vol.Dims)
	assert.Equal(t, 1.0, vol.At(0, 0, 0, 0))
	assert.Equal(t, 3.0, vol.At(1, 0, 0, 0), "points are floored to voxel indices")
	assert.Equal(t, 1.0, vol.At(3, 3, 3, 0))
	assert.Equal(t, Stats{Streamlines: 3, Points: 7, OutOfBounds: 2}, stats)

	total := 0.0
	for _, v := range vol.Data {
		total += v
	}
	assert.Equal(t, 5.0, total, "every in-bounds point counts once")
}

func TestAccumulateUnique(t *testing.T) {
	streamlines := []models.Streamline{
		line(r3.Vec{X: 1.1}, r3.Vec{X: 1.5}, r3.Vec{X: 1.9}, r3.Vec{X: 2.1}),
		line(r3.Vec{X: 1.2}),
	}

	vol, _ := Accumulate(grid, models.Identity(), streamlines, true)
	assert.Equal(t, 2.0, vol.At(1, 0, 0, 0))
	assert.Equal(t, 1.0, vol.At(2, 0, 0, 0))

	vol, _ = Accumulate(grid, models.Identity(), streamlines, false)
	assert.Equal(t, 4.0, vol.At(1, 0, 0, 0))
}

// TestAccumulate_OrderIndependent checks that shuffling the streamlines and
// their points never changes the counts.
func TestAccumulate_OrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("counts do not depend on order", prop.ForAll(
		func(coords []float64, seed uint64) bool {
			var streamlines []models.Streamline
			var current models.Streamline
			for i := 0; i+2 < len(coords); i += 3 {
				current = append(current, r3.Vec{X: coords[i], Y: coords[i+1], Z: coords[i+2]})
				if len(current) == 4 {
					streamlines = append(streamlines, current)
					current = nil
				}
			}
			if len(current) > 0 {
				streamlines = append(streamlines, current)
			}

			want, wantStats := Accumulate(grid, models.Identity(), streamlines, false)

			rng := rand.New(rand.NewPCG(seed, 1))
			shuffled := make([]models.Streamline, len(streamlines))
			for i, s := range streamlines {
				shuffled[i] = slices.Clone(s)
				rng.Shuffle(len(shuffled[i]), func(a, b int) {
					shuffled[i][a], shuffled[i][b] = shuffled[i][b], shuffled[i][a]
				})
			}
			rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

			got, gotStats := Accumulate(grid, models.Identity(), shuffled, false)
			return slices.Equal(want.Data, got.Data) && wantStats == gotStats
		},
		gen.SliceOf(gen.Float64Range(-1, 5)),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func countsVolume(values ...float64) *models.Volume {
	vol := models.NewVolume([]int{len(values), 1, 1}, models.Identity())
	copy(vol.Data, values)
	return vol
}

func TestApplyBinary(t *testing.T) {
	counts := []float64{0, 1, 5, 0, 2}
	vol := countsVolume(counts...)
	require.NoError(t, Apply(vol, Binary))
	for i, c := range counts {
		want := 0.0
		if c > 0 {
			want = 1
		}
		assert.Equal(t, want, vol.Data[i])
	}

	empty := countsVolume(0, 0)
	require.NoError(t, Apply(empty, Binary), "an empty binary map is valid")
}

func TestApplyNormalize(t *testing.T) {
	vol := countsVolume(0, 2, 8, 4)
	require.NoError(t, Apply(vol, Normalize))
	assert.Equal(t, []float64{0, 0.25, 1, 0.5}, vol.Data)
	assert.Equal(t, 1.0, slices.Max(vol.Data))
}

func TestApplyLog(t *testing.T) {
	vol := countsVolume(0, 1, 3)
	require.NoError(t, Apply(vol, Log))
	assert.Equal(t, 0.0, vol.Data[0])
	assert.InDelta(t, math.Log(2)/math.Log(4), vol.Data[1], 1e-12)
	assert.InDelta(t, 1.0, vol.Data[2], 1e-12)
}

func TestApplyEmptyMap(t *testing.T) {
	for _, mode := range []Mode{Log, Normalize} {
		t.Run(mode.String(), func(t *testing.T) {
			vol := countsVolume(0, 0, 0)
			assert.ErrorIs(t, Apply(vol, mode), ErrEmptyVisitMap)
			for _, v := range vol.Data {
				assert.False(t, math.IsNaN(v))
			}
		})
	}
}

func TestApplyCountsIsIdentity(t *testing.T) {
	vol := countsVolume(0, 3, 1)
	require.NoError(t, Apply(vol, Counts))
	assert.Equal(t, []float64{0, 3, 1}, vol.Data)
}

func TestSelectMode(t *testing.T) {
	assert.Equal(t, Counts, SelectMode(false, false, false))
	assert.Equal(t, Log, SelectMode(true, true, true))
	assert.Equal(t, Normalize, SelectMode(false, true, true))
	assert.Equal(t, Binary, SelectMode(false, false, true))
}

func TestComputeUsesReferenceAffine(t *testing.T) {
	affine := models.Identity()
	affine[0][0], affine[1][1], affine[2][2] = 2, 2, 2
	affine[0][3] = -4
	ref := models.NewVolume([]int{4, 4, 4, 7}, affine)

	// world x = 2*i - 4, so x = -1 lies in voxel 1
	streamlines := []models.Streamline{line(r3.Vec{X: -1, Y: 0.5, Z: 0.5}, r3.Vec{X: 2.5, Y: 7, Z: 0.5})}
	vol, stats, err := Compute(ref, streamlines, Counts, false)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 4}, vol.Dims, "only the spatial dimensions are kept")
	assert.Equal(t, affine, vol.Affine)
	assert.Equal(t, 1.0, vol.At(1, 0, 0, 0))
	assert.Equal(t, 1.0, vol.At(3, 3, 0, 0))
	assert.Zero(t, stats.OutOfBounds)
}

func TestSummarize(t *testing.T) {
	s := Summarize(countsVolume(0, 2, 4, 0))
	assert.Equal(t, 2, s.Visited)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 3.0, s.Mean)
	assert.InDelta(t, math.Sqrt2, s.StdDev, 1e-12)

	assert.Equal(t, Summary{}, Summarize(countsVolume(0, 0)))
	assert.Equal(t, Summary{Visited: 1, Max: 3, Mean: 3}, Summarize(countsVolume(0, 3)))
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "ref.nii.gz")
	ref := models.NewVolume([]int{5, 5, 5}, models.Identity())
	require.NoError(t, nifti.Save(refPath, ref, nil, nifti.Float32))

	tracksPath := filepath.Join(dir, "stream_0.trk")
	tg := &trk.Tractogram{
		Streamlines: []models.Streamline{
			line(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 2, Y: 1, Z: 1}),
			line(r3.Vec{X: 2, Y: 1, Z: 1}, r3.Vec{X: 3, Y: 1, Z: 1}),
		},
		Affine: models.Identity(),
		Dims:   [3]int{5, 5, 5},
	}
	require.NoError(t, trk.Save(tracksPath, tg))

	tests := []struct {
		mode  Mode
		dtype nifti.DataType
		want  float64
	}{
		{Counts, nifti.Float32, 2},
		{Normalize, nifti.Float32, 1},
		{Binary, nifti.Uint8, 1},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "vm.nii.gz")
			previews := filepath.Join(t.TempDir(), "previews")
			res, err := Generate(Options{
				ReferenceFile:   refPath,
				StreamlinesFile: tracksPath,
				OutputFile:      out,
				Mode:            tt.mode,
				PreviewDir:      previews,
			}, zerolog.Nop())
			require.NoError(t, err)
			assert.Equal(t, tt.dtype, res.DType)
			assert.Equal(t, 3, res.Summary.Visited)

			vol, hdr, err := nifti.Load(out)
			require.NoError(t, err)
			assert.Equal(t, int16(tt.dtype), hdr.DataType)
			assert.InDelta(t, tt.want, vol.At(2, 1, 1, 0), 1e-6)
			assert.Equal(t, 0.0, vol.At(0, 0, 0, 0))

			entries, err := os.ReadDir(previews)
			require.NoError(t, err)
			assert.Len(t, entries, 15)
		})
	}
}

func TestGenerateEmptyMap(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "ref.nii")
	require.NoError(t, nifti.Save(refPath, models.NewVolume([]int{3, 3, 3}, models.Identity()), nil, nifti.Float32))
	tracksPath := filepath.Join(dir, "empty.trk")
	require.NoError(t, trk.Save(tracksPath, &trk.Tractogram{Affine: models.Identity(), Dims: [3]int{3, 3, 3}}))

	out := filepath.Join(dir, "vm.nii")
	_, err := Generate(Options{ReferenceFile: refPath, StreamlinesFile: tracksPath, OutputFile: out, Mode: Log}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrEmptyVisitMap)
	assert.NoFileExists(t, out)
}
