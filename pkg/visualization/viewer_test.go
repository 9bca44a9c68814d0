package visualization

import (
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"

	"splinewarp/internal/models"
)

// createVolume fills a volume where each Z slice has a unique value
func createVolume(width, height, depth int) *models.Image {
	img := models.NewImage(models.NewGeometry(width, height, depth), 1)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Set(float64(z), x, y, z)
			}
		}
	}
	return img
}

// TestNewViewer verifies the intensity window and dimensions
func TestNewViewer(t *testing.T) {
	viewer, err := NewViewer(createVolume(10, 8, 5))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	if viewer.width != 10 || viewer.height != 8 || viewer.depth != 5 {
		t.Errorf("Expected 10x8x5, got %dx%dx%d", viewer.width, viewer.height, viewer.depth)
	}
	if lo, hi := viewer.Window(); lo != 0 || hi != 4 {
		t.Errorf("Expected window [0, 4], got [%f, %f]", lo, hi)
	}

	if _, err := NewViewer(models.NewImage(models.NewGeometry(0, 0), 1)); err == nil {
		t.Error("Expected error for empty image, got nil")
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 10, 5
	viewer, err := NewViewer(createVolume(width, height, depth))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
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

		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		expected := float64(z) / float64(depth-1) * 65535
		got := float64(gray16Img.Gray16At(width/2, height/2).Y)
		if math.Abs(got-expected) > 1.0 {
			t.Errorf("Expected Z slice value ~%f at center, got %f", expected, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
}

// TestVectorFieldPreview checks that vector pixels are shown by magnitude
func TestVectorFieldPreview(t *testing.T) {
	field := models.NewImage(models.NewGeometry(3, 1), 2)
	copy(field.Pixel(0), []float64{0, 0})
	copy(field.Pixel(1), []float64{3, 4})
	copy(field.Pixel(2), []float64{6, 8})

	viewer, err := NewViewer(field)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if lo, hi := viewer.Window(); lo != 0 || hi != 10 {
		t.Errorf("Expected window [0, 10], got [%f, %f]", lo, hi)
	}
	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	if got := img.(*image.Gray16).Gray16At(1, 0).Y; got < 32000 || got > 33600 {
		t.Errorf("Expected mid grey for magnitude 5, got %d", got)
	}
}

// TestSavePreviews verifies that middle slices are written as JPEG files
func TestSavePreviews(t *testing.T) {
	tempDir := t.TempDir()

	viewer, err := NewViewer(createVolume(6, 6, 4))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	paths, err := viewer.SavePreviews(filepath.Join(tempDir, "previews"), "result")
	if err != nil {
		t.Fatalf("SavePreviews failed: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("Expected 3 previews, got %d", len(paths))
	}
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			t.Fatalf("Preview %s not written: %v", path, err)
		}
		if _, err := jpeg.Decode(file); err != nil {
			t.Errorf("Preview %s is not a valid JPEG: %v", path, err)
		}
		file.Close()
	}

	flat, err := NewViewer(models.NewImage(models.NewGeometry(4, 4), 1))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	paths, err = flat.SavePreviews(tempDir, "flat")
	if err != nil {
		t.Fatalf("SavePreviews failed: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "flat_z.jpg" {
		t.Errorf("Expected a single z preview, got %v", paths)
	}
}
