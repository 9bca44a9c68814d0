// Package visualization renders grey-level previews of result images
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

	"splinewarp/internal/models"
)

// Viewer extracts axis-aligned slices from an image. Multi-component
// images (deformation fields, Jacobian matrices) are shown by the
// Euclidean norm of each pixel.
type Viewer struct {
	// values holds one scalar per pixel
	values []float64

	width  int
	height int
	depth  int

	// lo and hi are the intensity window mapped to black and white
	lo, hi float64
}

// NewViewer creates a viewer over a 2-D or 3-D image
func NewViewer(img *models.Image) (*Viewer, error) {
	if img.IsEmpty() {
		return nil, fmt.Errorf("cannot view an empty image")
	}
	if d := img.Dimension(); d != 2 && d != 3 {
		return nil, fmt.Errorf("cannot view a %d-D image", d)
	}

	n := img.NumberOfPixels()
	v := &Viewer{
		values: make([]float64, n),
		width:  img.Size[0],
		height: img.Size[1],
		depth:  1,
	}
	if img.Dimension() == 3 {
		v.depth = img.Size[2]
	}

	for off := 0; off < n; off++ {
		px := img.Pixel(off)
		if len(px) == 1 {
			v.values[off] = px[0]
		} else {
			v.values[off] = floats.Norm(px, 2)
		}
	}

	finite := make([]float64, 0, n)
	for _, x := range v.values {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			finite = append(finite, x)
		}
	}
	if len(finite) > 0 {
		v.lo, v.hi = floats.Min(finite), floats.Max(finite)
	}
	return v, nil
}

// Window returns the intensity range mapped to black and white
func (v *Viewer) Window() (lo, hi float64) { return v.lo, v.hi }

func (v *Viewer) grey(x float64) color.Gray16 {
	if v.hi <= v.lo || math.IsNaN(x) {
		return color.Gray16{}
	}
	t := (x - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, t*65535)))}
}

// ExtractSlice extracts a 2D slice along the specified axis
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
				img.SetGray16(z, y, v.grey(v.values[z*v.width*v.height+y*v.width+position]))
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
				img.SetGray16(x, z, v.grey(v.values[z*v.width*v.height+position*v.width+x]))
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
				img.SetGray16(x, y, v.grey(v.values[position*v.width*v.height+y*v.width+x]))
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

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SavePreviews writes the middle slice through each axis as
// <name>_<axis>.jpg in dir and returns the written paths. 2-D images
// produce a single z preview.
func (v *Viewer) SavePreviews(dir, name string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	axes := []string{"z"}
	if v.depth > 1 {
		axes = []string{"x", "y", "z"}
	}

	var paths []string
	for _, axis := range axes {
		var middle int
		switch axis {
		case "x":
			middle = v.width / 2
		case "y":
			middle = v.height / 2
		case "z":
			middle = v.depth / 2
		}

		img, err := v.ExtractSlice(axis, middle)
		if err != nil {
			return paths, err
		}
		filename := filepath.Join(dir, fmt.Sprintf("%s_%s.jpg", name, axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}
