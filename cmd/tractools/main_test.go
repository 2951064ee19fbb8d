package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	apperrors "tractools/internal/errors"
	"tractools/internal/models"
	"tractools/pkg/csd"
	"tractools/pkg/csd/mocks"
	"tractools/pkg/nifti"
	"tractools/pkg/seeds"
	"tractools/pkg/tracking"
)

const gridSize = 8

func runCLI(t *testing.T, ctx *commandContext, args ...string) (string, string, error) {
	t.Helper()
	if ctx == nil {
		ctx = &commandContext{}
	}
	cmd := newRootCommandWithContext(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--config", filepath.Join(t.TempDir(), "none.yaml")}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// trackingInputs writes a mibrain volume with a single x peak everywhere, a
// full mask and a seed file with n seeds.
func trackingInputs(t *testing.T, n int) (model, mask, seedFile string) {
	t.Helper()
	dir := t.TempDir()

	mibrain := models.NewVolume([]int{gridSize, gridSize, gridSize, 3}, models.Identity())
	full := models.NewVolume([]int{gridSize, gridSize, gridSize}, models.Identity())
	for i := 0; i < full.NumVoxels(); i++ {
		mibrain.Data[i] = 1
		full.Data[i] = 1
	}
	model = filepath.Join(dir, "mibrain.nii.gz")
	mask = filepath.Join(dir, "wm.nii")
	require.NoError(t, nifti.Save(model, mibrain, nil, nifti.Float32))
	require.NoError(t, nifti.Save(mask, full, nil, nifti.Uint8))

	points := make([][]r3.Vec, n)
	infos := make([]models.SeedInfo, n)
	for i := range points {
		points[i] = []r3.Vec{{X: 4, Y: float64(i % gridSize), Z: 4}}
		infos[i] = models.SeedInfo{
			ModelType: models.ModelTypeVoxels,
			Structure: "CIFTI_STRUCTURE_THALAMUS_LEFT",
			Coord:     []float64{4, float64(i % gridSize), 4},
		}
	}
	seedFile = filepath.Join(dir, "seeds.yaml")
	require.NoError(t, seeds.Save(seedFile, points, infos))
	return model, mask, seedFile
}

func TestTractographyAndVisitMap(t *testing.T) {
	model, mask, seedFile := trackingInputs(t, 20)
	out := filepath.Join(t.TempDir(), "tracks")
	metrics := filepath.Join(t.TempDir(), "tracking.prom")

	stdout, _, err := runCLI(t, nil, "tractography", model, mask, seedFile, out,
		"--algorithm", "deterministic",
		"--particles", "1",
		"--max-length", "20",
		"--seeds-per-process", "8",
		"--processes", "2",
		"--metrics-file", metrics,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 written, 0 skipped, 0 failed")

	for i := 0; i < 3; i++ {
		assert.FileExists(t, tracking.StreamlinePath(out, i))
		assert.FileExists(t, tracking.InfoPath(out, i))
	}
	assert.FileExists(t, tracking.SentinelPath(out))

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "tractools_tracking_streamlines_total 20")

	visits := filepath.Join(t.TempDir(), "visits.nii.gz")
	stdout, _, err = runCLI(t, nil, "visit-map", mask, tracking.StreamlinePath(out, 0), visits, "--binary")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Visited voxels")

	vol, hdr, err := nifti.Load(visits)
	require.NoError(t, err)
	assert.Equal(t, nifti.Uint8, nifti.DataType(hdr.DataType))
	assert.Equal(t, 1.0, vol.At(0, 0, 4, 0), "seed row y=0 is tracked across the whole x axis")
	assert.Equal(t, 0.0, vol.At(0, 0, 0, 0))
}

func TestTractographySkipsExistingChunks(t *testing.T) {
	model, mask, seedFile := trackingInputs(t, 4)
	out := t.TempDir()
	existing := tracking.StreamlinePath(out, 0)
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o644))

	stdout, _, err := runCLI(t, nil, "tractography", model, mask, seedFile, out, "--algorithm", "det", "--particles", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "skipped")

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
	assert.NoFileExists(t, tracking.InfoPath(out, 0))

	_, _, err = runCLI(t, nil, "tractography", model, mask, seedFile, out, "--algorithm", "det", "--particles", "1", "--force")
	require.NoError(t, err)
	assert.FileExists(t, tracking.InfoPath(out, 0))
}

func TestTractographyRejectsInvalidFlags(t *testing.T) {
	model, mask, seedFile := trackingInputs(t, 1)
	out := filepath.Join(t.TempDir(), "out")

	tests := map[string][]string{
		"particles":  {"--particles", "0"},
		"algorithm":  {"--algorithm", "euler"},
		"provenance": {"--provenance", "all"},
		"max-angle":  {"--max-angle", "190"},
	}
	for name, flags := range tests {
		t.Run(name, func(t *testing.T) {
			args := append([]string{"tractography", model, mask, seedFile, out}, flags...)
			_, _, err := runCLI(t, nil, args...)
			require.Error(t, err)
			assert.Equal(t, apperrors.ExitErrorConfig, apperrors.ExitCode(err))
			assert.NoDirExists(t, out)
		})
	}
}

func TestVisitMapModesAreExclusive(t *testing.T) {
	_, _, err := runCLI(t, nil, "visit-map", "ref.nii", "s.trk", "out.nii", "--log", "--binary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestCSDSHMUsesConfiguredExecutor(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)

	dir := t.TempDir()
	dwi := filepath.Join(dir, "dwi.nii")
	bvals := filepath.Join(dir, "bvals")
	bvecs := filepath.Join(dir, "bvecs")
	require.NoError(t, nifti.Save(dwi, models.NewVolume([]int{2, 2, 2, 2}, models.Identity()), nil, nifti.Int16))
	require.NoError(t, os.WriteFile(bvals, []byte("0 1000\n"), 0o644))
	require.NoError(t, os.WriteFile(bvecs, []byte("0 1\n0 0\n0 0\n"), 0o644))
	shm := filepath.Join(dir, "shm.nii.gz")

	exec.EXPECT().
		Run(gomock.Any(), csd.DefaultBinary, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, args []string, _ func(string)) error {
			i := slices.Index(args, "--roi_center")
			require.GreaterOrEqual(t, i, 0)
			assert.Equal(t, []string{"1", "0", "1"}, args[i+1:i+4])
			work := args[slices.Index(args, "--out_dir")+1]
			name := args[slices.Index(args, "--out_shm")+1]
			return nifti.Save(filepath.Join(work, name), models.NewVolume([]int{2, 2, 2, 28}, models.Identity()), nil, nifti.Float32)
		})

	ctx := &commandContext{csdOptions: []csd.Option{csd.WithExecutor(exec), csd.WithTempRoot(t.TempDir())}}
	stdout, _, err := runCLI(t, ctx, "csd-shm", dwi, bvals, bvecs, shm, "--roi-center", "1,0,1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "SH coefficients saved to "+shm)
	assert.FileExists(t, shm)
}

func TestCSDRejectsShortROICenter(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	ctx := &commandContext{csdOptions: []csd.Option{csd.WithExecutor(exec)}}
	_, _, err := runCLI(t, ctx, "csd", "dwi.nii", "bvals", "bvecs", "--mibrain", "m.nii", "--roi-center", "1,2")
	require.Error(t, err)
	assert.Equal(t, apperrors.ExitErrorConfig, apperrors.ExitCode(err))
	assert.Contains(t, err.Error(), "roi-center")
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "conf", "tractools.yaml")

	stdout, _, err := runCLI(t, nil, "config", "init", target)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote default configuration")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "seedsPerProcess: 500"))

	_, _, err = runCLI(t, nil, "config", "init", target)
	assert.ErrorContains(t, err, "already exists")

	_, _, err = runCLI(t, nil, "config", "init", target, "--overwrite")
	assert.NoError(t, err)
}

func TestConfigFileSetsDefaults(t *testing.T) {
	model, mask, seedFile := trackingInputs(t, 3)
	cfgPath := filepath.Join(t.TempDir(), "tractools.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("tracking:\n  algorithm: deterministic\n  particles: 2\n  provenance: attempts\n"), 0o644))

	out := t.TempDir()
	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath, "tractography", model, mask, seedFile, out})
	require.NoError(t, cmd.Execute())

	info, err := os.ReadFile(tracking.InfoPath(out, 0))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(info)), "\n"), 6, "two attempts per seed")
}
