// Package csd fits constrained spherical deconvolution models by driving the
// external dipy_fit_csd workflow, and extracts from the fitted SH
// coefficients the peak volumes consumed by tractography.
package csd

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks tractools/pkg/csd Executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	apperrors "tractools/internal/errors"
	"tractools/internal/models"
	"tractools/pkg/nifti"
)

// DefaultBinary is the dipy workflow invoked when no other is configured.
const DefaultBinary = "dipy_fit_csd"

// names of the intermediate files inside the work directory
const (
	shmName  = "shm.nii.gz"
	maskName = "mask.nii.gz"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures the fitter.
type Option func(*Fitter)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(f *Fitter) {
		if exec != nil {
			f.exec = exec
		}
	}
}

// WithTempRoot sets the directory work directories are created in.
func WithTempRoot(dir string) Option {
	return func(f *Fitter) { f.tempRoot = dir }
}

// Fitter runs CSD fits.
type Fitter struct {
	binary   string
	exec     Executor
	logger   zerolog.Logger
	tempRoot string
}

// New constructs a fitter invoking binary.
func New(binary string, logger zerolog.Logger, opts ...Option) (*Fitter, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("csd binary required")
	}
	f := &Fitter{
		binary: binary,
		exec:   commandExecutor{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fit estimates the response function, fits the model over the whole volume
// and writes every output requested in p. Peaks are extracted from the SH
// coefficients, only inside the peak mask when one is given. Outputs are
// saved with the header of the diffusion volume.
func (f *Fitter) Fit(ctx context.Context, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	gtab, err := ReadGradients(p.BValsFile, p.BVecsFile)
	if err != nil {
		return fmt.Errorf("failed to read gradients: %w", err)
	}
	hdr, err := nifti.ReadHeader(p.DWIFile)
	if err != nil {
		return fmt.Errorf("failed to read diffusion volume: %w", err)
	}
	dims := hdr.Dims()
	if len(dims) < 4 || dims[3] != gtab.Len() {
		return apperrors.NewValidationError("gradients", "%d gradient directions for a diffusion volume shaped %v", gtab.Len(), dims)
	}

	work, err := os.MkdirTemp(f.tempRoot, "tractools-csd-*")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(work)

	mask := filepath.Join(work, maskName)
	if err := writeFullMask(mask, hdr); err != nil {
		return err
	}

	args := f.arguments(p, gtab, mask, work)
	f.logger.Debug().Strs("args", args).Msg("Fitting CSD model")
	err = f.exec.Run(ctx, f.binary, args, func(line string) {
		f.logger.Debug().Str("tool", filepath.Base(f.binary)).Msg(line)
	})
	if err != nil {
		return fmt.Errorf("%s failed: %w", f.binary, err)
	}

	if p.SHMFile != "" {
		f.logger.Debug().Str("output", p.SHMFile).Msg("Saving SHM coefficients")
		if err := export(filepath.Join(work, shmName), p.SHMFile, hdr); err != nil {
			return err
		}
	}
	if !p.WantsPeaks() {
		return nil
	}

	shm, _, err := nifti.Load(filepath.Join(work, shmName))
	if err != nil {
		return fmt.Errorf("missing fit output: %w", err)
	}
	shm.Affine = hdr.Affine()
	var peakMask *models.Volume
	if p.PeakMaskFile != "" {
		if peakMask, _, err = nifti.Load(p.PeakMaskFile); err != nil {
			return fmt.Errorf("failed to load peak mask: %w", err)
		}
	}

	f.logger.Debug().Int("npeaks", p.NPeaks).Msg("Computing peaks")
	peaks, err := ExtractPeaks(ctx, shm, peakMask, PeakOptions{
		RelativeThreshold: p.RelativePeakThreshold,
		MinSeparation:     p.MinSeparation,
		NPeaks:            p.NPeaks,
	})
	if err != nil {
		return err
	}
	if p.Normalize {
		peaks.Normalize()
	}

	outputs := []struct {
		path string
		vol  func() *models.Volume
	}{
		{p.PeakDirsFile, func() *models.Volume { return peaks.Dirs }},
		{p.PeakValsFile, func() *models.Volume { return peaks.Values }},
		{p.MibrainFile, peaks.Mibrain},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		if err := nifti.Save(o.path, o.vol(), hdr, nifti.Float32); err != nil {
			return fmt.Errorf("failed to save %s: %w", o.path, err)
		}
		f.logger.Debug().Str("output", o.path).Msg("Saved")
	}
	return nil
}

// arguments builds the dipy_fit_csd command line. Only the SH coefficients
// are requested; the workflow's own peak extraction cannot be tuned.
func (f *Fitter) arguments(p Params, gtab *GradientTable, mask, work string) []string {
	args := []string{
		p.DWIFile, p.BValsFile, p.BVecsFile, mask,
		"--b0_threshold", formatFloat(gtab.B0Threshold()),
		"--roi_radii", strconv.Itoa(p.ROIRadius),
		"--fa_thr", formatFloat(p.FAThreshold),
		"--sh_order_max", strconv.Itoa(p.SHOrder),
	}
	if p.ROICenter != nil {
		args = append(args, "--roi_center")
		for _, c := range p.ROICenter {
			args = append(args, strconv.Itoa(c))
		}
	}
	return append(args,
		"--out_dir", work,
		"--out_shm", shmName,
	)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// writeFullMask writes an all-ones mask on the grid of hdr.
func writeFullMask(path string, hdr *nifti.Header) error {
	dims := hdr.Dims()
	mask := models.NewVolume(dims[:3], hdr.Affine())
	for i := range mask.Data {
		mask.Data[i] = 1
	}
	if err := nifti.Save(path, mask, hdr, nifti.Uint8); err != nil {
		return fmt.Errorf("failed to write mask: %w", err)
	}
	return nil
}

// export re-saves a work file at dst with the diffusion header and affine.
func export(src, dst string, hdr *nifti.Header) error {
	vol, _, err := nifti.Load(src)
	if err != nil {
		return fmt.Errorf("missing fit output: %w", err)
	}
	vol.Affine = hdr.Affine()
	if err := nifti.Save(dst, vol, hdr, nifti.Float32); err != nil {
		return fmt.Errorf("failed to save %s: %w", dst, err)
	}
	return nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if onStdout == nil {
				continue
			}
			mu.Lock()
			onStdout(scanner.Text())
			mu.Unlock()
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
