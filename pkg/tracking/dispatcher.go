// Package tracking partitions seeds into chunks, tracks every chunk on a
// bounded pool of goroutines and marks the output directory complete once
// all of them have returned.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
	"tractools/pkg/seeds"
)

// Status is the outcome of one chunk.
type Status string

const (
	StatusWritten Status = "written"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// ChunkResult reports what happened to one chunk.
type ChunkResult struct {
	Index          int
	Status         Status
	Seeds          int
	Attempts       int
	Streamlines    int
	StreamlinePath string
	InfoPath       string
	// Bytes is the size of the written streamline file
	Bytes    int64
	Duration time.Duration
	Err      error
}

// ChunkError ties a failure to the chunk it happened in.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string { return fmt.Sprintf("chunk %d: %v", e.Index, e.Err) }

func (e *ChunkError) Unwrap() error { return e.Err }

// Report summarizes a tracking run.
type Report struct {
	RunID    string
	Chunks   []ChunkResult
	Duration time.Duration
	// Sentinel is the path of the completion marker, empty when it was
	// withheld
	Sentinel string
}

// Count returns the number of chunks that ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, c := range r.Chunks {
		if c.Status == s {
			n++
		}
	}
	return n
}

// Dispatcher runs tracking chunks concurrently.
type Dispatcher struct {
	opts    Options
	logger  zerolog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	// track processes one chunk; replaced in tests
	track func(ctx context.Context, chunk seeds.Chunk) ChunkResult
}

// NewDispatcher creates a dispatcher. A nil metrics gets a fresh set.
func NewDispatcher(opts Options, logger zerolog.Logger, metrics *Metrics) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics()
	}
	d := &Dispatcher{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("tractools/pkg/tracking"),
	}
	d.track = d.trackChunk
	return d
}

// Metrics returns the metrics the dispatcher records into.
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

// Run partitions the seeds, tracks every chunk and writes the sentinel.
// It blocks until all chunks have returned. Chunk failures do not stop the
// other chunks; they are joined into the returned error and the sentinel is
// not written. The report is returned even on error.
func (d *Dispatcher) Run(ctx context.Context, points [][]r3.Vec, infos []models.SeedInfo) (*Report, error) {
	if err := d.opts.Validate(); err != nil {
		return nil, err
	}
	size := d.opts.SeedsPerProcess
	if size <= 0 {
		size = seeds.DefaultChunkSize
	}
	chunks, err := seeds.Partition(points, infos, size)
	if err != nil {
		return nil, err
	}
	workers := d.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if err := os.MkdirAll(d.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	report := &Report{RunID: uuid.NewString(), Chunks: make([]ChunkResult, len(chunks))}
	logger := d.logger.With().Str("run_id", report.RunID).Logger()
	logger.Info().
		Int("seeds", len(points)).
		Int("chunks", len(chunks)).
		Int("workers", workers).
		Str("algorithm", d.opts.Algorithm.String()).
		Msg("Starting tractography")

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			report.Chunks[i] = d.runChunk(ctx, logger, report.RunID, chunk)
			return nil
		})
	}
	_ = g.Wait()
	report.Duration = time.Since(start)

	var errs []error
	for _, r := range report.Chunks {
		d.metrics.Observe(r)
		if r.Err != nil {
			errs = append(errs, &ChunkError{Index: r.Index, Err: r.Err})
		}
	}
	if len(errs) > 0 {
		logger.Error().Int("failed", len(errs)).Msg("Tracking incomplete, completion marker withheld")
		return report, errors.Join(errs...)
	}

	sentinel := SentinelPath(d.opts.OutputDir)
	f, err := os.Create(sentinel)
	if err != nil {
		return report, fmt.Errorf("failed to write completion marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return report, fmt.Errorf("failed to write completion marker: %w", err)
	}
	report.Sentinel = sentinel

	logger.Info().
		Int("written", report.Count(StatusWritten)).
		Int("skipped", report.Count(StatusSkipped)).
		Dur("elapsed", report.Duration).
		Msg("Tractography finished")
	return report, nil
}

func (d *Dispatcher) runChunk(ctx context.Context, logger zerolog.Logger, runID string, chunk seeds.Chunk) ChunkResult {
	ctx, span := d.tracer.Start(ctx, "tracking.chunk", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("chunk", chunk.Index),
		attribute.Int("seeds", chunk.Len()),
	))
	defer span.End()

	res := d.track(logger.WithContext(ctx), chunk)

	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.Int("streamlines", res.Streamlines),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		logger.Error().Err(res.Err).Int("chunk", chunk.Index).Msg("Chunk failed")
	}
	return res
}
