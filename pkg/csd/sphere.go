package csd

import (
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
)

// Sphere is a triangulated unit sphere on which ODFs are sampled.
type Sphere struct {
	Vertices []r3.Vec
	// Neighbors lists, per vertex, the vertices sharing an edge with it
	Neighbors [][]int
}

// NewGeodesicSphere subdivides an octahedron level times, splitting every
// triangle into four. The six axis directions are always vertices 0-5, in
// the order +x, -x, +y, -y, +z, -z. Level n has 4^(n+1)+2 vertices.
func NewGeodesicSphere(level int) *Sphere {
	verts := []r3.Vec{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1}}
	faces := [][3]int{
		{0, 2, 4}, {2, 1, 4}, {1, 3, 4}, {3, 0, 4},
		{2, 0, 5}, {1, 2, 5}, {3, 1, 5}, {0, 3, 5},
	}

	for l := 0; l < level; l++ {
		mid := make(map[[2]int]int)
		midpoint := func(a, b int) int {
			key := [2]int{min(a, b), max(a, b)}
			if i, ok := mid[key]; ok {
				return i
			}
			verts = append(verts, r3.Unit(r3.Add(verts[a], verts[b])))
			mid[key] = len(verts) - 1
			return len(verts) - 1
		}
		next := make([][3]int, 0, 4*len(faces))
		for _, f := range faces {
			ab, bc, ca := midpoint(f[0], f[1]), midpoint(f[1], f[2]), midpoint(f[2], f[0])
			next = append(next,
				[3]int{f[0], ab, ca},
				[3]int{ab, f[1], bc},
				[3]int{ca, bc, f[2]},
				[3]int{ab, bc, ca},
			)
		}
		faces = next
	}

	neighbors := make([][]int, len(verts))
	link := func(a, b int) {
		if !slices.Contains(neighbors[a], b) {
			neighbors[a] = append(neighbors[a], b)
		}
	}
	for _, f := range faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			link(a, b)
			link(b, a)
		}
	}
	for _, n := range neighbors {
		slices.Sort(n)
	}
	return &Sphere{Vertices: verts, Neighbors: neighbors}
}
