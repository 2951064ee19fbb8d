package seeds

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
)

// Chunk is a contiguous run of seeds handed to one tracking job.
type Chunk struct {
	// Index numbers the chunk from 0 and names its output files
	Index int

	// Points holds the seed points of this chunk
	Points [][]r3.Vec

	// Infos holds the provenance metadata aligned with Points
	Infos []models.SeedInfo
}

// Len returns the number of seeds in the chunk.
func (c Chunk) Len() int { return len(c.Points) }

// Partition splits the seeds and their metadata into chunks of at most size
// seeds. Chunk i covers seeds [i*size, min((i+1)*size, len)). The chunks
// share backing arrays with the inputs.
func Partition(points [][]r3.Vec, infos []models.SeedInfo, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if len(points) != len(infos) {
		return nil, fmt.Errorf("have %d seeds but %d metadata records", len(points), len(infos))
	}

	n := len(points)
	chunks := make([]Chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Points: points[start:end:end],
			Infos:  infos[start:end:end],
		})
	}
	return chunks, nil
}
