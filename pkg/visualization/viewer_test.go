package visualization

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"tractools/internal/models"
)

// layeredVolume returns a volume whose value at (x, y, z) is z+1.
func layeredVolume(width, height, depth int) *models.Volume {
	vol := models.NewVolume([]int{width, height, depth}, models.Identity())
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Data[vol.Index(x, y, z, 0)] = float64(z + 1)
			}
		}
	}
	return vol
}

// TestNewViewer verifies that a new viewer takes its geometry from the volume
func TestNewViewer(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer, err := NewViewer(layeredVolume(width, height, depth))
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	if viewer.width != width || viewer.height != height || viewer.depth != depth {
		t.Errorf("Expected %dx%dx%d, got %dx%dx%d", width, height, depth, viewer.width, viewer.height, viewer.depth)
	}

	if math.Abs(viewer.scale-1.0/float64(depth)) > 1e-12 {
		t.Errorf("Expected scale %f, got %f", 1.0/float64(depth), viewer.scale)
	}

	if _, err := NewViewer(nil); err == nil {
		t.Error("Expected error for nil volume, got nil")
	}

	broken := &models.Volume{Dims: []int{2, 2, 2}, Data: make([]float64, 3)}
	if _, err := NewViewer(broken); err == nil {
		t.Error("Expected error for inconsistent volume, got nil")
	}
}

// TestNewViewerEmptyVolume verifies that an all-zero map renders black
func TestNewViewerEmptyVolume(t *testing.T) {
	viewer, err := NewViewer(models.NewVolume([]int{3, 3, 3}, models.Identity()))
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}
	if viewer.scale != 1 {
		t.Errorf("Expected scale 1 for an empty volume, got %f", viewer.scale)
	}

	img, err := viewer.ExtractSlice("z", 1)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if v := img.(*image.Gray16).Gray16At(1, 1).Y; v != 0 {
		t.Errorf("Expected black pixel, got %d", v)
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 10, 5
	viewer, err := NewViewer(layeredVolume(width, height, depth))
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		expectedValue := uint16(float64(z+1) / float64(depth) * 65535)
		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}

		centerValue := gray16Img.Gray16At(width/2, height/2).Y
		if math.Abs(float64(centerValue)-float64(expectedValue)) > 1.0 {
			t.Errorf("Expected Z slice value ~%d at center, got %d",
				expectedValue, centerValue)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	boundsX := imgX.Bounds()
	if boundsX.Dx() != depth || boundsX.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d",
			depth, height, boundsX.Dx(), boundsX.Dy())
	}
	// brightest column is the last z layer
	if v := imgX.(*image.Gray16).Gray16At(depth-1, 0).Y; v != 65535 {
		t.Errorf("Expected white pixel in last layer, got %d", v)
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	boundsY := imgY.Bounds()
	if boundsY.Dx() != width || boundsY.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d",
			width, depth, boundsY.Dx(), boundsY.Dy())
	}

	if _, err = viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err = viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err = viewer.ExtractSlice("y", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestSaveSlice verifies that slices can be saved to disk
func TestSaveSlice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	viewer, err := NewViewer(layeredVolume(10, 10, 5))
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	filename := filepath.Join(t.TempDir(), "test_slice.jpg")
	if err := viewer.SaveSlice(img, filename); err != nil {
		t.Fatalf("Failed to save slice: %v", err)
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Errorf("Saved file does not exist: %s", filename)
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	width, height, depth := 5, 4, 3
	viewer, err := NewViewer(layeredVolume(width, height, depth))
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	outputDir := filepath.Join(t.TempDir(), "slices")
	for axis, n := range map[string]int{"x": width, "y": height, "z": depth} {
		if err := viewer.SaveSliceSequence(axis, outputDir); err != nil {
			t.Fatalf("Failed to save %s slice sequence: %v", axis, err)
		}
		for pos := 0; pos < n; pos++ {
			filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
			if _, err := os.Stat(filename); os.IsNotExist(err) {
				t.Errorf("Expected slice file does not exist: %s", filename)
			}
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
