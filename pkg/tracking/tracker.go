package tracking

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
)

// TissueClassifier decides whether tracking may continue at a position given
// in voxel coordinates.
type TissueClassifier interface {
	Trackable(pos r3.Vec) bool
}

// BinaryClassifier allows tracking wherever the nearest mask voxel is
// positive.
type BinaryClassifier struct {
	mask *models.Volume
}

// NewBinaryClassifier wraps a mask volume. Only the first component of each
// voxel is read.
func NewBinaryClassifier(mask *models.Volume) *BinaryClassifier {
	return &BinaryClassifier{mask: mask}
}

// Trackable implements TissueClassifier.
func (c *BinaryClassifier) Trackable(pos r3.Vec) bool {
	x, y, z := nearest(pos)
	return c.mask.Contains(x, y, z) && c.mask.At(x, y, z, 0) > 0
}

// LocalTracker grows streamlines from seeds by fixed-size steps, in both
// directions, until the classifier or the direction getter stops it.
type LocalTracker struct {
	directions DirectionGetter
	classifier TissueClassifier
	step       r3.Vec
	maxLength  int
}

// NewLocalTracker builds a tracker. stepSize is in mm and is converted to
// voxels with voxelSize; maxLength bounds the number of steps taken on each
// side of the seed.
func NewLocalTracker(directions DirectionGetter, classifier TissueClassifier, stepSize float64, voxelSize [3]float64, maxLength int) (*LocalTracker, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %g", stepSize)
	}
	if maxLength <= 0 {
		return nil, fmt.Errorf("max length must be positive, got %d", maxLength)
	}
	for i, v := range voxelSize {
		if v <= 0 {
			return nil, fmt.Errorf("voxel size %d must be positive, got %g", i, v)
		}
	}
	return &LocalTracker{
		directions: directions,
		classifier: classifier,
		step: r3.Vec{
			X: stepSize / voxelSize[0],
			Y: stepSize / voxelSize[1],
			Z: stepSize / voxelSize[2],
		},
		maxLength: maxLength,
	}, nil
}

// Track returns the streamline through seed, in voxel coordinates. It
// returns nil when the seed lies outside the trackable region and a single
// point streamline when no initial direction exists.
func (t *LocalTracker) Track(seed r3.Vec) models.Streamline {
	if !t.classifier.Trackable(seed) {
		return nil
	}
	dir, ok := t.directions.InitialDirection(seed)
	if !ok {
		return models.Streamline{seed}
	}

	forward := t.propagate(seed, dir)
	backward := t.propagate(seed, r3.Scale(-1, dir))

	s := make(models.Streamline, 0, len(backward)+1+len(forward))
	for i := len(backward) - 1; i >= 0; i-- {
		s = append(s, backward[i])
	}
	s = append(s, seed)
	return append(s, forward...)
}

func (t *LocalTracker) propagate(pos, dir r3.Vec) []r3.Vec {
	var pts []r3.Vec
	for i := 0; i < t.maxLength; i++ {
		pos = r3.Add(pos, r3.Vec{X: dir.X * t.step.X, Y: dir.Y * t.step.Y, Z: dir.Z * t.step.Z})
		if !t.classifier.Trackable(pos) {
			break
		}
		pts = append(pts, pos)

		next, ok := t.directions.NextDirection(pos, dir)
		if !ok {
			break
		}
		dir = next
	}
	return pts
}
