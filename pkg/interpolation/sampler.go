// Package interpolation samples images at arbitrary physical points
package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
)

// Method selects how values between pixel centres are computed
type Method int

const (
	Linear Method = iota
	NearestNeighbor
)

// Interpolator names accepted in the ResampleInterpolator parameter
const (
	LinearName          = "FinalLinearInterpolator"
	NearestNeighborName = "FinalNearestNeighborInterpolator"
)

func (m Method) String() string {
	switch m {
	case Linear:
		return LinearName
	case NearestNeighbor:
		return NearestNeighborName
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod maps an interpolator name to a Method. The empty string
// selects Linear.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "", LinearName:
		return Linear, nil
	case NearestNeighborName:
		return NearestNeighbor, nil
	default:
		return Linear, fmt.Errorf("%w: unsupported interpolator %q", errdefs.ErrConfiguration, name)
	}
}

// insideTolerance allows points a rounding error past the outermost pixel centre
const insideTolerance = 1e-6

// Sampler reads an image at physical points. It holds no mutable state and
// may be shared between goroutines.
type Sampler struct {
	img          *models.Image
	method       Method
	defaultValue float64

	// toIndex maps (p - origin) to a continuous index
	toIndex *mat.Dense
}

// NewSampler prepares img for sampling. Points outside the image yield
// defaultValue in every component.
func NewSampler(img *models.Image, method Method, defaultValue float64) (*Sampler, error) {
	if img == nil || img.IsEmpty() {
		return nil, fmt.Errorf("%w: cannot sample an empty image", errdefs.ErrConfiguration)
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrConfiguration, err)
	}

	d := img.Dimension()
	m := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			m.Set(i, j, img.Direction[i*d+j]*img.Spacing[j])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, fmt.Errorf("%w: image direction is not invertible: %v", errdefs.ErrConfiguration, err)
	}

	return &Sampler{img: img, method: method, defaultValue: defaultValue, toIndex: &inv}, nil
}

// Components returns the number of values written by Sample
func (s *Sampler) Components() int { return s.img.Components }

// Sample writes the interpolated components at p into out and reports
// whether p lies inside the image
func (s *Sampler) Sample(p models.Point, out []float64) bool {
	d := s.img.Dimension()
	var cbuf [3]float64
	ci := cbuf[:d]
	for i := 0; i < d; i++ {
		v := 0.0
		for j := 0; j < d; j++ {
			v += s.toIndex.At(i, j) * (p[j] - s.img.Origin[j])
		}
		ci[i] = v
	}

	for i, v := range ci {
		if v < -insideTolerance || v > float64(s.img.Size[i]-1)+insideTolerance {
			for c := range out {
				out[c] = s.defaultValue
			}
			return false
		}
	}

	if s.method == NearestNeighbor {
		s.nearest(ci, out)
	} else {
		s.linear(ci, out)
	}
	return true
}

func (s *Sampler) nearest(ci []float64, out []float64) {
	var ibuf [3]int
	index := ibuf[:len(ci)]
	for i, v := range ci {
		index[i] = clamp(int(math.Floor(v+0.5)), s.img.Size[i]-1)
	}
	copy(out, s.img.Pixel(s.img.Offset(index)))
}

// linear blends the 2^D neighbouring pixels
func (s *Sampler) linear(ci []float64, out []float64) {
	d := len(ci)
	var base, idx [3]int
	var frac [3]float64
	for i, v := range ci {
		f := math.Floor(v)
		base[i] = clamp(int(f), s.img.Size[i]-1)
		frac[i] = v - float64(base[i])
		if frac[i] < 0 {
			frac[i] = 0
		}
		if frac[i] > 1 {
			frac[i] = 1
		}
	}

	for c := range out {
		out[c] = 0
	}
	for corner := 0; corner < 1<<d; corner++ {
		w := 1.0
		for i := 0; i < d; i++ {
			if corner&(1<<i) != 0 {
				idx[i] = base[i] + 1
				w *= frac[i]
			} else {
				idx[i] = base[i]
				w *= 1 - frac[i]
			}
		}
		if w == 0 {
			continue
		}
		for i := 0; i < d; i++ {
			idx[i] = clamp(idx[i], s.img.Size[i]-1)
		}
		pixel := s.img.Pixel(s.img.Offset(idx[:d]))
		for c := range out {
			out[c] += w * pixel[c]
		}
	}
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
