package tracking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the counters of tracking runs in a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	chunks      *prometheus.CounterVec
	seeds       prometheus.Counter
	attempts    prometheus.Counter
	streamlines prometheus.Counter
	duration    prometheus.Histogram
}

// NewMetrics creates and registers the tracking metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tractools",
			Subsystem: "tracking",
			Name:      "chunks_total",
			Help:      "Chunks processed, by result status.",
		}, []string{"status"}),
		seeds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tractools",
			Subsystem: "tracking",
			Name:      "seeds_total",
			Help:      "Seeds handled by tracked chunks.",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tractools",
			Subsystem: "tracking",
			Name:      "attempts_total",
			Help:      "Tracking attempts made.",
		}),
		streamlines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tractools",
			Subsystem: "tracking",
			Name:      "streamlines_total",
			Help:      "Streamlines kept and written.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tractools",
			Subsystem: "tracking",
			Name:      "chunk_duration_seconds",
			Help:      "Wall time spent on one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	m.registry.MustRegister(m.chunks, m.seeds, m.attempts, m.streamlines, m.duration)
	return m
}

// Observe records one chunk result.
func (m *Metrics) Observe(r ChunkResult) {
	m.chunks.WithLabelValues(string(r.Status)).Inc()
	if r.Status != StatusWritten {
		return
	}
	m.seeds.Add(float64(r.Seeds))
	m.attempts.Add(float64(r.Attempts))
	m.streamlines.Add(float64(r.Streamlines))
	m.duration.Observe(r.Duration.Seconds())
}

// Registry exposes the underlying registry, e.g. for testutil or an HTTP
// handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the metrics in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
