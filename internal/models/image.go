package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is a physical (or index-space) coordinate of length 2 or 3
type Point []float64

// Clone returns an independent copy of the point
func (p Point) Clone() Point {
	q := make(Point, len(p))
	copy(q, p)
	return q
}

// PointSet is an ordered list of points read from a landmark or input point file
type PointSet struct {
	// Points holds the coordinates in file order
	Points []Point

	// AreIndices reports whether the source expressed the points as image indices
	AreIndices bool
}

// Len returns the number of points
func (ps PointSet) Len() int { return len(ps.Points) }

// Dimension returns the dimension of the first point, or 0 for an empty set
func (ps PointSet) Dimension() int {
	if len(ps.Points) == 0 {
		return 0
	}
	return len(ps.Points[0])
}

// Flatten returns the coordinates as one list: x0 y0 z0 x1 y1 z1 ...
func (ps PointSet) Flatten() []float64 {
	out := make([]float64, 0, len(ps.Points)*ps.Dimension())
	for _, p := range ps.Points {
		out = append(out, p...)
	}
	return out
}

// Unflatten splits a flat coordinate list into points of the given dimension
func Unflatten(values []float64, dim int) ([]Point, error) {
	if dim <= 0 || len(values)%dim != 0 {
		return nil, fmt.Errorf("cannot split %d values into points of dimension %d", len(values), dim)
	}
	points := make([]Point, len(values)/dim)
	for i := range points {
		points[i] = Point(append([]float64(nil), values[i*dim:(i+1)*dim]...))
	}
	return points, nil
}

// Geometry describes the index-to-physical mapping of a regular grid
type Geometry struct {
	// Size is the number of pixels along each axis
	Size []int

	// Spacing is the physical distance between pixel centres in mm
	Spacing []float64

	// Origin is the physical position of index 0
	Origin []float64

	// Direction is the row-major DxD direction cosine matrix
	Direction []float64
}

// NewGeometry returns a geometry with unit spacing, zero origin and identity direction
func NewGeometry(size ...int) Geometry {
	d := len(size)
	g := Geometry{
		Size:      append([]int(nil), size...),
		Spacing:   make([]float64, d),
		Origin:    make([]float64, d),
		Direction: make([]float64, d*d),
	}
	for i := 0; i < d; i++ {
		g.Spacing[i] = 1
		g.Direction[i*d+i] = 1
	}
	return g
}

// Dimension returns the number of axes
func (g Geometry) Dimension() int { return len(g.Size) }

// NumberOfPixels returns the product of Size
func (g Geometry) NumberOfPixels() int {
	if len(g.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range g.Size {
		n *= s
	}
	return n
}

// Validate checks that all geometry slices agree on the dimension
func (g Geometry) Validate() error {
	d := len(g.Size)
	if d != 2 && d != 3 {
		return fmt.Errorf("unsupported image dimension %d", d)
	}
	if len(g.Spacing) != d || len(g.Origin) != d || len(g.Direction) != d*d {
		return fmt.Errorf("inconsistent geometry: size %d, spacing %d, origin %d, direction %d",
			d, len(g.Spacing), len(g.Origin), len(g.Direction))
	}
	for i, n := range g.Size {
		if n < 0 {
			return fmt.Errorf("size along axis %d must not be negative, got %d", i, n)
		}
	}
	for i, s := range g.Spacing {
		if s <= 0 {
			return fmt.Errorf("spacing along axis %d must be positive, got %g", i, s)
		}
	}
	return nil
}

// ContinuousIndexToPhysical maps a (possibly fractional) index to physical space:
// p = origin + direction * diag(spacing) * index
func (g Geometry) ContinuousIndexToPhysical(index []float64) Point {
	d := g.Dimension()
	p := make(Point, d)
	for i := 0; i < d; i++ {
		sum := g.Origin[i]
		for j := 0; j < d; j++ {
			sum += g.Direction[i*d+j] * g.Spacing[j] * index[j]
		}
		p[i] = sum
	}
	return p
}

// IndexToPhysical maps an integer index to physical space
func (g Geometry) IndexToPhysical(index []int) Point {
	ci := make([]float64, len(index))
	for i, v := range index {
		ci[i] = float64(v)
	}
	return g.ContinuousIndexToPhysical(ci)
}

// PhysicalToContinuousIndex inverts ContinuousIndexToPhysical
func (g Geometry) PhysicalToContinuousIndex(p Point) ([]float64, error) {
	d := g.Dimension()
	m := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			m.Set(i, j, g.Direction[i*d+j]*g.Spacing[j])
		}
	}
	rhs := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		rhs.SetVec(i, p[i]-g.Origin[i])
	}
	var idx mat.VecDense
	if err := idx.SolveVec(m, rhs); err != nil {
		return nil, fmt.Errorf("direction matrix is not invertible: %w", err)
	}
	return append([]float64(nil), idx.RawVector().Data...), nil
}

// Image represents an N-D image on a regular grid. Pixel data is stored
// x fastest, then y, then z, with Components values per pixel.
type Image struct {
	Geometry

	// Components is the number of values per pixel: 1 for scalar images,
	// D for vector fields and D*D for matrix fields
	Components int

	// Data holds the pixel values
	Data []float64
}

// NewImage allocates a zero-filled image over the given geometry
func NewImage(g Geometry, components int) *Image {
	if components < 1 {
		components = 1
	}
	return &Image{
		Geometry:   g,
		Components: components,
		Data:       make([]float64, g.NumberOfPixels()*components),
	}
}

// IsEmpty reports whether the image has no extent in its first two axes
func (img *Image) IsEmpty() bool {
	if img == nil || len(img.Size) < 2 {
		return true
	}
	return img.Size[0] == 0 && img.Size[1] == 0
}

// Offset returns the linear pixel offset of an index, or -1 if it lies outside the image
func (img *Image) Offset(index []int) int {
	off, stride := 0, 1
	for i, v := range index {
		if v < 0 || v >= img.Size[i] {
			return -1
		}
		off += v * stride
		stride *= img.Size[i]
	}
	return off
}

// IndexOf converts a linear pixel offset back into an index, reusing index
// when it has the right length
func (g Geometry) IndexOf(offset int, index []int) []int {
	if len(index) != len(g.Size) {
		index = make([]int, len(g.Size))
	}
	for i, s := range g.Size {
		index[i] = offset % s
		offset /= s
	}
	return index
}

// Pixel returns the components of the pixel at a linear offset
func (img *Image) Pixel(offset int) []float64 {
	return img.Data[offset*img.Components : (offset+1)*img.Components]
}

// At returns the first component at the given index, or NaN outside the image
func (img *Image) At(index ...int) float64 {
	off := img.Offset(index)
	if off < 0 {
		return math.NaN()
	}
	return img.Data[off*img.Components]
}

// Set assigns the first component at the given index
func (img *Image) Set(v float64, index ...int) {
	if off := img.Offset(index); off >= 0 {
		img.Data[off*img.Components] = v
	}
}
