package models

import (
	"math"
	"testing"
)

// TestIndexToPhysicalIsotropic checks the 1mm isotropic, zero-origin mapping
func TestIndexToPhysicalIsotropic(t *testing.T) {
	g := NewGeometry(32, 32, 32)

	for _, idx := range [][]int{{10, 10, 10}, {20, 20, 20}} {
		p := g.IndexToPhysical(idx)
		for d := range idx {
			if p[d] != float64(idx[d]) {
				t.Errorf("Expected physical %v, got %v", idx, p)
			}
		}
	}
}

// TestGeometryRoundTrip verifies PhysicalToContinuousIndex inverts the forward mapping
func TestGeometryRoundTrip(t *testing.T) {
	g := NewGeometry(10, 12)
	g.Spacing = []float64{0.5, 2.0}
	g.Origin = []float64{-3, 7}
	// 90 degree rotation
	g.Direction = []float64{0, -1, 1, 0}

	ci := []float64{3.25, 4.5}
	p := g.ContinuousIndexToPhysical(ci)

	back, err := g.PhysicalToContinuousIndex(p)
	if err != nil {
		t.Fatalf("PhysicalToContinuousIndex failed: %v", err)
	}
	for i := range ci {
		if math.Abs(back[i]-ci[i]) > 1e-12 {
			t.Errorf("Axis %d: expected %f, got %f", i, ci[i], back[i])
		}
	}
}

// TestImageOffsets verifies linear offsets and their inverse
func TestImageOffsets(t *testing.T) {
	img := NewImage(NewGeometry(4, 3, 2), 1)

	if len(img.Data) != 24 {
		t.Fatalf("Expected 24 pixels, got %d", len(img.Data))
	}

	img.Set(5, 1, 2, 1)
	if img.At(1, 2, 1) != 5 {
		t.Errorf("Expected value 5, got %f", img.At(1, 2, 1))
	}

	off := img.Offset([]int{1, 2, 1})
	if off != 1+2*4+1*12 {
		t.Errorf("Unexpected offset %d", off)
	}
	idx := img.IndexOf(off, nil)
	if idx[0] != 1 || idx[1] != 2 || idx[2] != 1 {
		t.Errorf("IndexOf returned %v", idx)
	}

	if img.Offset([]int{4, 0, 0}) != -1 {
		t.Error("Expected -1 for out of range index")
	}
	if !math.IsNaN(img.At(-1, 0, 0)) {
		t.Error("Expected NaN outside the image")
	}
}

// TestIsEmpty follows the two-axis emptiness rule
func TestIsEmpty(t *testing.T) {
	var nilImg *Image
	if !nilImg.IsEmpty() {
		t.Error("nil image should be empty")
	}
	if !NewImage(NewGeometry(0, 0, 5), 1).IsEmpty() {
		t.Error("0x0xN image should be empty")
	}
	if NewImage(NewGeometry(2, 2), 1).IsEmpty() {
		t.Error("2x2 image should not be empty")
	}
}

// TestUnflatten checks flat coordinate lists split into points
func TestUnflatten(t *testing.T) {
	pts, err := Unflatten([]float64{1, 2, 3, 4, 5, 6}, 3)
	if err != nil {
		t.Fatalf("Unflatten failed: %v", err)
	}
	if len(pts) != 2 || pts[1][2] != 6 {
		t.Errorf("Unexpected points %v", pts)
	}

	if _, err := Unflatten([]float64{1, 2, 3, 4}, 3); err == nil {
		t.Error("Expected error for ragged list")
	}

	ps := PointSet{Points: pts}
	flat := ps.Flatten()
	if len(flat) != 6 || flat[3] != 4 {
		t.Errorf("Flatten returned %v", flat)
	}
}

func TestGeometryValidate(t *testing.T) {
	if err := NewGeometry(0, 0, 5).Validate(); err != nil {
		t.Errorf("empty grid should validate, got %v", err)
	}

	negative := NewGeometry(-2, 3)
	if err := negative.Validate(); err == nil {
		t.Error("Expected error for a negative size")
	}

	spacing := NewGeometry(2, 3)
	spacing.Spacing[1] = 0
	if err := spacing.Validate(); err == nil {
		t.Error("Expected error for a zero spacing")
	}
}
