// Package visualization renders slices of a volume as grayscale images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"tractools/internal/models"
)

// Viewer renders the first component of a volume, scaled so that the
// largest value maps to white.
type Viewer struct {
	vol *models.Volume

	// dimensions of the volume
	width  int
	height int
	depth  int

	// scale maps volume values into [0, 1]
	scale float64
}

// NewViewer creates a viewer for vol.
func NewViewer(vol *models.Volume) (*Viewer, error) {
	if vol == nil {
		return nil, fmt.Errorf("volume is nil")
	}
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	shape := vol.Shape()
	v := &Viewer{
		vol:    vol,
		width:  shape[0],
		height: shape[1],
		depth:  shape[2],
		scale:  1,
	}
	if n := vol.NumVoxels(); n > 0 {
		if peak := floats.Max(vol.Data[:n]); peak > 0 {
			v.scale = 1 / peak
		}
	}
	return v, nil
}

func (v *Viewer) gray(x, y, z int) color.Gray16 {
	value := v.vol.At(x, y, z, 0) * v.scale
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, value*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.gray(position, y, z))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.gray(x, position, z))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.gray(x, y, position))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// as slice_<axis>_<pos>.jpg in outputDir.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
