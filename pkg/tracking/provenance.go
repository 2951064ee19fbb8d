package tracking

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"tractools/internal/models"
)

// provenanceRow is the info_<i>.txt row for a seed: the vertex reference for
// surface seeds, otherwise the voxel coordinate truncated to integers.
func provenanceRow(info models.SeedInfo) []float64 {
	row := make([]float64, len(info.Coord))
	if info.IsSurface() {
		copy(row, info.Coord)
		return row
	}
	for i, c := range info.Coord {
		row[i] = float64(int(c))
	}
	return row
}

// writeProvenance writes rows as a whitespace separated table in %.18e, one
// row per line. An empty table produces an empty file.
func writeProvenance(path string, rows [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create provenance file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	buf := make([]byte, 0, 32)
	for _, row := range rows {
		for j, v := range row {
			if j > 0 {
				w.WriteByte(' ')
			}
			buf = strconv.AppendFloat(buf[:0], v, 'e', 18, 64)
			w.Write(buf)
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write provenance file: %w", err)
	}
	return f.Close()
}
