// Package config provides configuration loading and management for tractools.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	apperrors "tractools/internal/errors"
	"tractools/pkg/csd"
	"tractools/pkg/tracking"
)

// DefaultFileName is the configuration file looked up when --config is not given.
const DefaultFileName = "tractools.yaml"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Tracking parameters
	Tracking struct {
		// Algorithm is either probabilistic or deterministic
		Algorithm string `yaml:"algorithm"`

		// Particles is the number of tracking attempts per seed point
		Particles int `yaml:"particles"`

		// StepSize is the tracking step length in mm
		StepSize float64 `yaml:"stepSize"`

		// MaxLength bounds the number of steps taken in each direction
		MaxLength int `yaml:"maxLength"`

		// MaxAngle is the largest turn allowed between two steps, in degrees
		MaxAngle float64 `yaml:"maxAngle"`

		// Processes specifies how many chunks are tracked in parallel
		Processes int `yaml:"processes"`

		// SeedsPerProcess is the number of seeds handed to each chunk
		SeedsPerProcess int `yaml:"seedsPerProcess"`

		// Provenance is kept (one info row per streamline) or attempts
		Provenance string `yaml:"provenance"`

		// RandomSeed makes probabilistic runs reproducible
		RandomSeed uint64 `yaml:"randomSeed"`
	} `yaml:"tracking"`

	// CSD model fitting parameters
	CSD struct {
		// Binary is the dipy workflow executed for the fit
		Binary string `yaml:"binary"`

		ROIRadius             int     `yaml:"roiRadius"`
		FAThreshold           float64 `yaml:"faThreshold"`
		SHOrder               int     `yaml:"shOrder"`
		RelativePeakThreshold float64 `yaml:"relativePeakThreshold"`
		MinSeparation         float64 `yaml:"minSeparation"`
		NPeaks                int     `yaml:"npeaks"`
		Normalize             bool    `yaml:"normalize"`
	} `yaml:"csd"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// MetricsFile receives a Prometheus textfile after each tracking run
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	opts := tracking.DefaultOptions()
	cfg.Tracking.Algorithm = opts.Algorithm.String()
	cfg.Tracking.Particles = opts.Particles
	cfg.Tracking.StepSize = opts.StepSize
	cfg.Tracking.MaxLength = opts.MaxLength
	cfg.Tracking.MaxAngle = opts.MaxAngle
	cfg.Tracking.Processes = runtime.NumCPU()
	cfg.Tracking.SeedsPerProcess = opts.SeedsPerProcess
	cfg.Tracking.Provenance = opts.Provenance.String()

	params := csd.DefaultParams()
	cfg.CSD.Binary = csd.DefaultBinary
	cfg.CSD.ROIRadius = params.ROIRadius
	cfg.CSD.FAThreshold = params.FAThreshold
	cfg.CSD.SHOrder = params.SHOrder
	cfg.CSD.RelativePeakThreshold = params.RelativePeakThreshold
	cfg.CSD.MinSeparation = params.MinSeparation
	cfg.CSD.NPeaks = params.NPeaks

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.NewConfigError("error parsing config file %s: %v", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks the values that cannot be checked when the file is parsed.
func (c *Config) Validate() error {
	if _, err := tracking.ParseAlgorithm(c.Tracking.Algorithm); err != nil {
		return apperrors.NewConfigError("tracking.algorithm: %v", err)
	}
	if _, err := tracking.ParseProvenanceMode(c.Tracking.Provenance); err != nil {
		return apperrors.NewConfigError("tracking.provenance: %v", err)
	}
	if c.Tracking.Processes < 0 {
		return apperrors.NewConfigError("tracking.processes must not be negative, got %d", c.Tracking.Processes)
	}
	if c.CSD.Binary == "" {
		return apperrors.NewConfigError("csd.binary must not be empty")
	}
	return nil
}

// TrackingOptions converts the tracking section into dispatcher options.
// The input and output paths are left for the caller.
func (c *Config) TrackingOptions() (tracking.Options, error) {
	opts := tracking.DefaultOptions()

	alg, err := tracking.ParseAlgorithm(c.Tracking.Algorithm)
	if err != nil {
		return opts, apperrors.NewValidationError("algorithm", "%v", err)
	}
	prov, err := tracking.ParseProvenanceMode(c.Tracking.Provenance)
	if err != nil {
		return opts, apperrors.NewValidationError("provenance", "%v", err)
	}

	opts.Algorithm = alg
	opts.Provenance = prov
	opts.Particles = c.Tracking.Particles
	opts.StepSize = c.Tracking.StepSize
	opts.MaxLength = c.Tracking.MaxLength
	opts.MaxAngle = c.Tracking.MaxAngle
	opts.Workers = c.Tracking.Processes
	opts.SeedsPerProcess = c.Tracking.SeedsPerProcess
	opts.RandomSeed = c.Tracking.RandomSeed
	return opts, nil
}

// CSDParams converts the csd section into fitting parameters.
func (c *Config) CSDParams() csd.Params {
	p := csd.DefaultParams()
	p.ROIRadius = c.CSD.ROIRadius
	p.FAThreshold = c.CSD.FAThreshold
	p.SHOrder = c.CSD.SHOrder
	p.RelativePeakThreshold = c.CSD.RelativePeakThreshold
	p.MinSeparation = c.CSD.MinSeparation
	p.NPeaks = c.CSD.NPeaks
	p.Normalize = c.CSD.Normalize
	return p
}
