package csd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// GradientTable holds the acquisition scheme of a diffusion volume.
type GradientTable struct {
	BValues []float64
	BVecs   []r3.Vec
}

// B0Threshold is the smallest b-value; volumes at or below it are treated as
// non diffusion weighted.
func (g *GradientTable) B0Threshold() float64 {
	if len(g.BValues) == 0 {
		return 0
	}
	return floats.Min(g.BValues)
}

// Len returns the number of diffusion directions.
func (g *GradientTable) Len() int { return len(g.BValues) }

// ReadGradients parses FSL style bvals and bvecs files. The b-vectors may be
// stored as 3 rows of N values or N rows of 3 values.
func ReadGradients(bvalsPath, bvecsPath string) (*GradientTable, error) {
	bvalRows, err := readTable(bvalsPath)
	if err != nil {
		return nil, err
	}
	var bvals []float64
	for _, row := range bvalRows {
		bvals = append(bvals, row...)
	}
	if len(bvals) == 0 {
		return nil, fmt.Errorf("%s: no b-values", bvalsPath)
	}

	bvecRows, err := readTable(bvecsPath)
	if err != nil {
		return nil, err
	}
	vecs, err := toVectors(bvecRows, len(bvals))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", bvecsPath, err)
	}
	return &GradientTable{BValues: bvals, BVecs: vecs}, nil
}

func toVectors(rows [][]float64, n int) ([]r3.Vec, error) {
	switch {
	case len(rows) == 3 && len(rows[0]) == n && len(rows[1]) == n && len(rows[2]) == n:
		vecs := make([]r3.Vec, n)
		for i := range vecs {
			vecs[i] = r3.Vec{X: rows[0][i], Y: rows[1][i], Z: rows[2][i]}
		}
		return vecs, nil
	case len(rows) == n:
		vecs := make([]r3.Vec, n)
		for i, row := range rows {
			if len(row) != 3 {
				return nil, fmt.Errorf("row %d has %d values, want 3", i+1, len(row))
			}
			vecs[i] = r3.Vec{X: row[0], Y: row[1], Z: row[2]}
		}
		return vecs, nil
	default:
		return nil, fmt.Errorf("b-vectors do not match %d b-values", n)
	}
}

// readTable reads whitespace or comma separated numbers, one row per
// non-empty line. Lines starting with # are ignored.
func readTable(path string) ([][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rows [][]float64
	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\r'
		})
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo+1, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}
