package tracking

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	apperrors "tractools/internal/errors"
)

// SentinelName is the file created in the output directory once every chunk
// has been tracked successfully.
const SentinelName = "vmgenerator.end"

// ProvenanceMode controls how rows of info_<i>.txt relate to the
// streamlines of stream_<i>.trk.
type ProvenanceMode int

const (
	// ProvenanceKept writes one row per kept streamline, so both files align
	// line by line.
	ProvenanceKept ProvenanceMode = iota
	// ProvenanceAttempts writes one row per tracking attempt, kept or not.
	ProvenanceAttempts
)

func (m ProvenanceMode) String() string {
	switch m {
	case ProvenanceKept:
		return "kept"
	case ProvenanceAttempts:
		return "attempts"
	default:
		return fmt.Sprintf("ProvenanceMode(%d)", int(m))
	}
}

// ParseProvenanceMode converts a command line name into a ProvenanceMode.
func ParseProvenanceMode(name string) (ProvenanceMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "kept":
		return ProvenanceKept, nil
	case "attempts":
		return ProvenanceAttempts, nil
	default:
		return 0, fmt.Errorf("unknown provenance mode %q (want kept or attempts)", name)
	}
}

// Options is the fixed bundle shared by every chunk of a tracking run.
type Options struct {
	ModelFile string
	MaskFile  string
	OutputDir string
	// Overwrite replaces existing stream_<i>.trk files instead of skipping
	// their chunk.
	Overwrite bool

	Algorithm Algorithm
	Particles int
	// StepSize is in mm
	StepSize  float64
	MaxLength int
	// MaxAngle is in degrees
	MaxAngle float64

	// Workers bounds the number of chunks tracked at once. Zero or less
	// means one per CPU.
	Workers         int
	SeedsPerProcess int
	Provenance      ProvenanceMode
	RandomSeed      uint64
}

// DefaultOptions returns the tracking parameters used when nothing else is
// configured.
func DefaultOptions() Options {
	return Options{
		Algorithm:       Probabilistic,
		Particles:       5000,
		StepSize:        1,
		MaxLength:       200,
		MaxAngle:        30,
		SeedsPerProcess: 500,
		Provenance:      ProvenanceKept,
	}
}

// Validate checks the options before any file is touched.
func (o Options) Validate() error {
	switch {
	case o.ModelFile == "":
		return apperrors.NewValidationError("model", "a model file is required")
	case o.MaskFile == "":
		return apperrors.NewValidationError("mask", "a mask file is required")
	case o.OutputDir == "":
		return apperrors.NewValidationError("outdir", "an output directory is required")
	case o.Particles <= 0:
		return apperrors.NewValidationError("particles", "must be positive, got %d", o.Particles)
	case o.StepSize <= 0:
		return apperrors.NewValidationError("step-size", "must be positive, got %g", o.StepSize)
	case o.MaxLength <= 0:
		return apperrors.NewValidationError("max-length", "must be positive, got %d", o.MaxLength)
	case o.MaxAngle <= 0 || o.MaxAngle > 180:
		return apperrors.NewValidationError("max-angle", "must be in (0, 180], got %g", o.MaxAngle)
	case o.SeedsPerProcess < 0:
		return apperrors.NewValidationError("seeds-per-process", "must not be negative, got %d", o.SeedsPerProcess)
	case o.Algorithm != Probabilistic && o.Algorithm != Deterministic:
		return apperrors.NewValidationError("algorithm", "unsupported value %v", o.Algorithm)
	case o.Provenance != ProvenanceKept && o.Provenance != ProvenanceAttempts:
		return apperrors.NewValidationError("provenance", "unsupported value %v", o.Provenance)
	}
	return nil
}

// StreamlinePath returns the streamline file of chunk i.
func StreamlinePath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("stream_%d.trk", i))
}

// InfoPath returns the provenance table of chunk i.
func InfoPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("info_%d.txt", i))
}

// SentinelPath returns the completion marker of a run.
func SentinelPath(dir string) string {
	return filepath.Join(dir, SentinelName)
}

// lockPath returns the advisory lock of chunk i. Locks live under the
// temporary directory, keyed by the absolute output directory, and are never
// removed: deleting a flock file lets two processes lock different inodes.
func lockPath(dir string, i int) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	key := uuid.NewSHA1(uuid.NameSpaceURL, []byte(abs))
	return filepath.Join(os.TempDir(), "tractools-locks", key.String(), fmt.Sprintf("stream_%d.lock", i))
}
