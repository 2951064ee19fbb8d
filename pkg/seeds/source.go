package seeds

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// PointSource is an endless, restartable stream over the points of one seed.
// A seed with a single point yields that point forever; a seed with several
// points cycles through them in order.
type PointSource struct {
	points []r3.Vec
	next   int
}

// NewPointSource returns a source positioned at the first point. points must
// not be empty.
func NewPointSource(points []r3.Vec) *PointSource {
	if len(points) == 0 {
		panic("seeds: point source needs at least one point")
	}
	return &PointSource{points: points}
}

// Next returns the current point and advances, wrapping at the end.
func (s *PointSource) Next() r3.Vec {
	p := s.points[s.next]
	s.next = (s.next + 1) % len(s.points)
	return p
}

// Reset rewinds the source to its first point.
func (s *PointSource) Reset() { s.next = 0 }

// Len returns the number of distinct points in one cycle.
func (s *PointSource) Len() int { return len(s.points) }
