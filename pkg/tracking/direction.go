package tracking

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
)

// Algorithm selects how the next tracking direction is chosen.
type Algorithm int

const (
	// Probabilistic samples among the admissible peaks, weighted by peak value.
	Probabilistic Algorithm = iota
	// Deterministic follows the strongest admissible peak.
	Deterministic
)

// String returns the command line name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case Probabilistic:
		return "probabilistic"
	case Deterministic:
		return "deterministic"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// ParseAlgorithm converts a command line name into an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "probabilistic", "prob":
		return Probabilistic, nil
	case "deterministic", "det":
		return Deterministic, nil
	default:
		return 0, fmt.Errorf("unknown tracking algorithm %q (want probabilistic or deterministic)", name)
	}
}

// DirectionGetter produces tracking directions from the fitted model.
// Positions are in voxel coordinates and directions are unit vectors.
type DirectionGetter interface {
	// InitialDirection returns the direction to leave a seed in.
	InitialDirection(pos r3.Vec) (r3.Vec, bool)
	// NextDirection returns the direction to continue in after arriving at
	// pos travelling along prev. ok is false when tracking must stop.
	NextDirection(pos, prev r3.Vec) (dir r3.Vec, ok bool)
}

// NewDirectionGetter builds the getter for alg over a peak volume. maxAngle
// is the largest turn, in degrees, allowed between two steps. rng is only
// used by the probabilistic getter.
func NewDirectionGetter(alg Algorithm, peaks *models.Volume, maxAngle float64, rng *rand.Rand) (DirectionGetter, error) {
	field, err := newPeakField(peaks)
	if err != nil {
		return nil, err
	}
	if maxAngle <= 0 || maxAngle > 180 {
		return nil, fmt.Errorf("max angle must be in (0, 180], got %g", maxAngle)
	}
	cosMax := math.Cos(maxAngle * math.Pi / 180)

	switch alg {
	case Deterministic:
		return &deterministicGetter{field: field, cosMax: cosMax}, nil
	case Probabilistic:
		if rng == nil {
			return nil, fmt.Errorf("probabilistic tracking needs a random source")
		}
		return &probabilisticGetter{field: field, cosMax: cosMax, rng: rng}, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %v", alg)
	}
}

// candidate is a unit direction with its peak value
type candidate struct {
	dir    r3.Vec
	weight float64
}

// peakField looks up peaks in a volume whose last dimension stores K
// direction triples, each scaled by its peak value.
type peakField struct {
	vol    *models.Volume
	npeaks int
}

func newPeakField(vol *models.Volume) (*peakField, error) {
	if vol == nil {
		return nil, fmt.Errorf("peak volume is nil")
	}
	c := vol.Components()
	if c == 0 || c%3 != 0 {
		return nil, fmt.Errorf("peak volume needs a multiple of 3 components per voxel, got %d", c)
	}
	return &peakField{vol: vol, npeaks: c / 3}, nil
}

// candidates returns the peaks at the voxel nearest to pos. When prev is
// non-zero, each peak is flipped to point along prev and peaks turning more
// than the cone allows are dropped.
func (f *peakField) candidates(pos, prev r3.Vec, cosMax float64, buf []candidate) []candidate {
	buf = buf[:0]
	x, y, z := nearest(pos)
	if !f.vol.Contains(x, y, z) {
		return buf
	}
	constrained := prev != (r3.Vec{})

	for k := 0; k < f.npeaks; k++ {
		p := r3.Vec{
			X: f.vol.At(x, y, z, 3*k),
			Y: f.vol.At(x, y, z, 3*k+1),
			Z: f.vol.At(x, y, z, 3*k+2),
		}
		n := r3.Norm(p)
		if n == 0 || math.IsNaN(n) {
			continue
		}
		u := r3.Scale(1/n, p)
		if constrained {
			c := r3.Dot(u, prev)
			if c < 0 {
				u = r3.Scale(-1, u)
				c = -c
			}
			if c < cosMax {
				continue
			}
		}
		buf = append(buf, candidate{dir: u, weight: n})
	}
	return buf
}

type deterministicGetter struct {
	field  *peakField
	cosMax float64
	buf    []candidate
}

func (g *deterministicGetter) InitialDirection(pos r3.Vec) (r3.Vec, bool) {
	return g.strongest(pos, r3.Vec{})
}

func (g *deterministicGetter) NextDirection(pos, prev r3.Vec) (r3.Vec, bool) {
	return g.strongest(pos, prev)
}

func (g *deterministicGetter) strongest(pos, prev r3.Vec) (r3.Vec, bool) {
	g.buf = g.field.candidates(pos, prev, g.cosMax, g.buf)
	best := -1
	for i, c := range g.buf {
		if best < 0 || c.weight > g.buf[best].weight {
			best = i
		}
	}
	if best < 0 {
		return r3.Vec{}, false
	}
	return g.buf[best].dir, true
}

type probabilisticGetter struct {
	field  *peakField
	cosMax float64
	rng    *rand.Rand
	buf    []candidate
}

func (g *probabilisticGetter) InitialDirection(pos r3.Vec) (r3.Vec, bool) {
	return g.sample(pos, r3.Vec{})
}

func (g *probabilisticGetter) NextDirection(pos, prev r3.Vec) (r3.Vec, bool) {
	return g.sample(pos, prev)
}

func (g *probabilisticGetter) sample(pos, prev r3.Vec) (r3.Vec, bool) {
	g.buf = g.field.candidates(pos, prev, g.cosMax, g.buf)
	if len(g.buf) == 0 {
		return r3.Vec{}, false
	}

	total := 0.0
	for _, c := range g.buf {
		total += c.weight
	}
	r := g.rng.Float64() * total
	for _, c := range g.buf {
		if r < c.weight {
			return c.dir, true
		}
		r -= c.weight
	}
	return g.buf[len(g.buf)-1].dir, true
}

func nearest(p r3.Vec) (int, int, int) {
	return int(math.Round(p.X)), int(math.Round(p.Y)), int(math.Round(p.Z))
}
