// Package seeds loads seed files and splits them into the chunks handed to
// the tracking workers.
package seeds

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"tractools/internal/models"
)

// DefaultChunkSize is the number of seeds assigned to each worker job when
// no seeds-per-process value is configured.
const DefaultChunkSize = 500

// record is the on-disk form of one seed
type record struct {
	models.SeedInfo `yaml:",inline"`
	Points          [][]float64 `yaml:"points"`
}

type file struct {
	Seeds []record `yaml:"seeds"`
}

// Load reads a YAML seed file and returns the seed points together with the
// parallel provenance metadata, both in file order.
func Load(path string) ([][]r3.Vec, []models.SeedInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes seed records from YAML.
func Parse(data []byte) ([][]r3.Vec, []models.SeedInfo, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("error parsing seed file: %w", err)
	}

	points := make([][]r3.Vec, len(f.Seeds))
	infos := make([]models.SeedInfo, len(f.Seeds))
	for i, rec := range f.Seeds {
		if len(rec.Points) == 0 {
			return nil, nil, fmt.Errorf("seed %d has no points", i)
		}
		pts := make([]r3.Vec, len(rec.Points))
		for j, p := range rec.Points {
			if len(p) != 3 {
				return nil, nil, fmt.Errorf("seed %d point %d has %d coordinates, want 3", i, j, len(p))
			}
			pts[j] = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
		}
		points[i] = pts
		infos[i] = rec.SeedInfo
	}
	return points, infos, nil
}

// Save writes seeds in the format read by Load.
func Save(path string, points [][]r3.Vec, infos []models.SeedInfo) error {
	if len(points) != len(infos) {
		return fmt.Errorf("have %d seeds but %d metadata records", len(points), len(infos))
	}

	f := file{Seeds: make([]record, len(points))}
	for i := range points {
		rec := record{SeedInfo: infos[i], Points: make([][]float64, len(points[i]))}
		for j, p := range points[i] {
			rec.Points[j] = []float64{p.X, p.Y, p.Z}
		}
		f.Seeds[i] = rec
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("error marshaling seeds: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing seed file: %w", err)
	}
	return nil
}
