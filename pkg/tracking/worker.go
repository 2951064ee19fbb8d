package tracking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
	"tractools/pkg/geometry"
	"tractools/pkg/nifti"
	"tractools/pkg/seeds"
	"tractools/pkg/trk"
)

// ErrChunkLocked is reported for a chunk whose output lock is held by
// another process.
var ErrChunkLocked = errors.New("chunk output is locked by another process")

// trackChunk runs one chunk from model loading to written outputs. It logs
// through the logger carried by ctx. Errors are reported in the returned
// result.
func (d *Dispatcher) trackChunk(ctx context.Context, chunk seeds.Chunk) ChunkResult {
	start := time.Now()
	res := ChunkResult{
		Index:          chunk.Index,
		Seeds:          chunk.Len(),
		StreamlinePath: StreamlinePath(d.opts.OutputDir, chunk.Index),
		InfoPath:       InfoPath(d.opts.OutputDir, chunk.Index),
	}
	logger := zerolog.Ctx(ctx).With().Int("chunk", chunk.Index).Logger()

	fail := func(err error) ChunkResult {
		res.Status = StatusFailed
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	lockFile := lockPath(d.opts.OutputDir, chunk.Index)
	if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
		return fail(fmt.Errorf("failed to create lock directory: %w", err))
	}
	lock := flock.New(lockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fail(fmt.Errorf("failed to lock chunk output: %w", err))
	}
	if !locked {
		return fail(ErrChunkLocked)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(res.StreamlinePath); err == nil && !d.opts.Overwrite {
		logger.Warn().Str("path", res.StreamlinePath).Msg("Output exists, skipping chunk (use --force to overwrite)")
		res.Status = StatusSkipped
		res.Duration = time.Since(start)
		return res
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	model, _, err := nifti.Load(d.opts.ModelFile)
	if err != nil {
		return fail(fmt.Errorf("failed to load model: %w", err))
	}
	mask, _, err := nifti.Load(d.opts.MaskFile)
	if err != nil {
		return fail(fmt.Errorf("failed to load mask: %w", err))
	}
	if model.Shape() != mask.Shape() {
		return fail(fmt.Errorf("mask shape %v does not match model shape %v", mask.Shape(), model.Shape()))
	}

	rng := rand.New(rand.NewPCG(d.opts.RandomSeed, uint64(chunk.Index)))
	directions, err := NewDirectionGetter(d.opts.Algorithm, model, d.opts.MaxAngle, rng)
	if err != nil {
		return fail(err)
	}
	zooms := [3]float64{model.VoxelSize.X, model.VoxelSize.Y, model.VoxelSize.Z}
	tracker, err := NewLocalTracker(directions, NewBinaryClassifier(mask), d.opts.StepSize, zooms, d.opts.MaxLength)
	if err != nil {
		return fail(err)
	}
	worldToVoxel, err := geometry.Inverse(model.Affine)
	if err != nil {
		return fail(fmt.Errorf("model affine: %w", err))
	}

	logger.Debug().Int("seeds", chunk.Len()).Int("particles", d.opts.Particles).Msg("Tracking chunk")

	var streamlines []models.Streamline
	var rows [][]float64
	every := max(1, chunk.Len()/5)
	for i, points := range chunk.Points {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if i%every == 0 {
			logger.Debug().Msgf("Progress: %d%% (%d/%d seeds)", 100*i/chunk.Len(), i, chunk.Len())
		}

		if len(points) == 0 {
			continue
		}
		voxelPoints := make([]r3.Vec, len(points))
		for j, p := range points {
			voxelPoints[j] = geometry.Apply(worldToVoxel, p)
		}
		source := seeds.NewPointSource(voxelPoints)
		row := provenanceRow(chunk.Infos[i])

		attempts := d.opts.Particles * len(points)
		for a := 0; a < attempts; a++ {
			s := tracker.Track(source.Next())
			res.Attempts++
			if d.opts.Provenance == ProvenanceAttempts {
				rows = append(rows, row)
			}
			if len(s) < 2 {
				continue
			}
			streamlines = append(streamlines, s)
			if d.opts.Provenance == ProvenanceKept {
				rows = append(rows, row)
			}
		}
	}

	tractogram := &trk.Tractogram{
		Streamlines: geometry.Transform(model.Affine, streamlines),
		Affine:      model.Affine,
		Dims:        model.Shape(),
		VoxelSize:   zooms,
	}
	// stream_<i>.trk is the overwrite guard's marker, so it is written last
	// and never left behind half written
	if err := writeProvenance(res.InfoPath, rows); err != nil {
		return fail(err)
	}
	if err := trk.Save(res.StreamlinePath, tractogram); err != nil {
		_ = os.Remove(res.StreamlinePath)
		return fail(fmt.Errorf("failed to save streamlines: %w", err))
	}

	if fi, err := os.Stat(res.StreamlinePath); err == nil {
		res.Bytes = fi.Size()
	}
	res.Streamlines = len(streamlines)
	res.Status = StatusWritten
	res.Duration = time.Since(start)
	logger.Debug().
		Int("streamlines", res.Streamlines).
		Int("attempts", res.Attempts).
		Dur("elapsed", res.Duration).
		Msg("Chunk written")
	return res
}
