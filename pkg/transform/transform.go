// Package transform provides the spatial transforms an application chain is
// built from, the factories that reconstruct them from parameter maps and
// the registry those factories are looked up in.
package transform

import (
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
	"splinewarp/pkg/params"
)

// Transform names as they appear in the Transform parameter
const (
	IdentityName    = "IdentityTransform"
	TranslationName = "TranslationTransform"
	AffineName      = "AffineTransform"
	KernelName      = params.SplineKernelTransformName
)

// Parameter names read by the built-in factories
const (
	KeyCenterOfRotationPoint  = "CenterOfRotationPoint"
	KeyHowToCombineTransforms = "HowToCombineTransforms"
)

// Transform maps physical points of the fixed image domain into the
// moving image domain
type Transform interface {
	Name() string
	Dimension() int
	TransformPoint(p models.Point) models.Point

	// Jacobian returns dT_i/dx_j at p as a D x D matrix
	Jacobian(p models.Point) *mat.Dense
}

// Factory reconstructs a transform from its parameter map
type Factory func(m *params.Map, logger zerolog.Logger) (Transform, error)

func identityMatrix(dim int) *mat.Dense {
	id := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		id.Set(i, i, 1)
	}
	return id
}

func checkDimension(name string, dim int, p models.Point) {
	if len(p) != dim {
		panic(fmt.Sprintf("transform: point of dimension %d passed to %d-D %s", len(p), dim, name))
	}
}

// fixedDimension reads FixedImageDimension, falling back to def when absent
func fixedDimension(m *params.Map, def int) (int, error) {
	dim, err := m.Int(params.KeyFixedImageDimension, def)
	if err != nil {
		return 0, err
	}
	if dim != 2 && dim != 3 {
		return 0, fmt.Errorf("%w: unsupported image dimension %d", errdefs.ErrConfiguration, dim)
	}
	return dim, nil
}

// Identity leaves points unchanged
type Identity struct {
	dim int
}

// NewIdentity returns the identity transform of the given dimension
func NewIdentity(dim int) *Identity { return &Identity{dim: dim} }

func (t *Identity) Name() string   { return IdentityName }
func (t *Identity) Dimension() int { return t.dim }

func (t *Identity) TransformPoint(p models.Point) models.Point {
	checkDimension(IdentityName, t.dim, p)
	return p.Clone()
}

func (t *Identity) Jacobian(p models.Point) *mat.Dense {
	checkDimension(IdentityName, t.dim, p)
	return identityMatrix(t.dim)
}

func newIdentityFromMap(m *params.Map, _ zerolog.Logger) (Transform, error) {
	dim, err := fixedDimension(m, 3)
	if err != nil {
		return nil, err
	}
	return NewIdentity(dim), nil
}

// Translation adds a constant offset
type Translation struct {
	offset []float64
}

// NewTranslation returns x -> x + offset
func NewTranslation(offset ...float64) *Translation {
	return &Translation{offset: append([]float64(nil), offset...)}
}

func (t *Translation) Name() string   { return TranslationName }
func (t *Translation) Dimension() int { return len(t.offset) }

// Offset returns a copy of the translation vector
func (t *Translation) Offset() []float64 { return append([]float64(nil), t.offset...) }

func (t *Translation) TransformPoint(p models.Point) models.Point {
	checkDimension(TranslationName, len(t.offset), p)
	out := p.Clone()
	for i, v := range t.offset {
		out[i] += v
	}
	return out
}

func (t *Translation) Jacobian(p models.Point) *mat.Dense {
	checkDimension(TranslationName, len(t.offset), p)
	return identityMatrix(len(t.offset))
}

func newTranslationFromMap(m *params.Map, _ zerolog.Logger) (Transform, error) {
	offset, err := m.Floats(params.KeyTransformParameters)
	if err != nil {
		return nil, err
	}
	dim, err := fixedDimension(m, len(offset))
	if err != nil {
		return nil, err
	}
	if len(offset) != dim {
		return nil, fmt.Errorf("%w: %s expects %d parameters, got %d",
			errdefs.ErrConfiguration, TranslationName, dim, len(offset))
	}
	return NewTranslation(offset...), nil
}

// Affine maps x to M (x - c) + t + c
type Affine struct {
	dim         int
	matrix      *mat.Dense
	translation []float64
	center      []float64
}

// NewAffine builds an affine transform. matrix is row-major D x D; a nil
// center means the origin.
func NewAffine(matrix, translation, center []float64) (*Affine, error) {
	dim := len(translation)
	if dim != 2 && dim != 3 {
		return nil, fmt.Errorf("%w: unsupported affine dimension %d", errdefs.ErrConfiguration, dim)
	}
	if len(matrix) != dim*dim {
		return nil, fmt.Errorf("%w: affine matrix needs %d values, got %d", errdefs.ErrConfiguration, dim*dim, len(matrix))
	}
	if center == nil {
		center = make([]float64, dim)
	}
	if len(center) != dim {
		return nil, fmt.Errorf("%w: center of rotation needs %d values, got %d", errdefs.ErrConfiguration, dim, len(center))
	}
	return &Affine{
		dim:         dim,
		matrix:      mat.NewDense(dim, dim, append([]float64(nil), matrix...)),
		translation: append([]float64(nil), translation...),
		center:      append([]float64(nil), center...),
	}, nil
}

func (t *Affine) Name() string   { return AffineName }
func (t *Affine) Dimension() int { return t.dim }

func (t *Affine) TransformPoint(p models.Point) models.Point {
	checkDimension(AffineName, t.dim, p)
	out := make(models.Point, t.dim)
	for i := 0; i < t.dim; i++ {
		v := t.translation[i] + t.center[i]
		for j := 0; j < t.dim; j++ {
			v += t.matrix.At(i, j) * (p[j] - t.center[j])
		}
		out[i] = v
	}
	return out
}

func (t *Affine) Jacobian(p models.Point) *mat.Dense {
	checkDimension(AffineName, t.dim, p)
	return mat.DenseCopyOf(t.matrix)
}

// newAffineFromMap reads TransformParameters as the row-major matrix followed
// by the translation
func newAffineFromMap(m *params.Map, _ zerolog.Logger) (Transform, error) {
	values, err := m.Floats(params.KeyTransformParameters)
	if err != nil {
		return nil, err
	}
	def := 3
	if len(values) == 6 {
		def = 2
	}
	dim, err := fixedDimension(m, def)
	if err != nil {
		return nil, err
	}
	if len(values) != dim*(dim+1) {
		return nil, fmt.Errorf("%w: %s expects %d parameters, got %d",
			errdefs.ErrConfiguration, AffineName, dim*(dim+1), len(values))
	}

	var center []float64
	if m.Has(KeyCenterOfRotationPoint) {
		if center, err = m.Floats(KeyCenterOfRotationPoint); err != nil {
			return nil, err
		}
	}
	return NewAffine(values[:dim*dim], values[dim*dim:], center)
}
