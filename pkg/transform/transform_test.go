package transform

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
	"splinewarp/pkg/kernel"
	"splinewarp/pkg/params"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func translationMap(offset ...float64) *params.Map {
	m := params.NewMap()
	m.Set(params.KeyTransform, TranslationName)
	m.SetFloats(params.KeyTransformParameters, offset...)
	return m
}

func affineMap(values, center []float64) *params.Map {
	m := params.NewMap()
	m.Set(params.KeyTransform, AffineName)
	m.SetFloats(params.KeyTransformParameters, values...)
	if center != nil {
		m.SetFloats(KeyCenterOfRotationPoint, center...)
	}
	return m
}

// numericJacobian estimates dT_i/dx_j with central differences
func numericJacobian(t Transform, p models.Point) *mat.Dense {
	const h = 1e-5
	dim := len(p)
	jac := mat.NewDense(dim, dim, nil)
	for j := 0; j < dim; j++ {
		plus, minus := p.Clone(), p.Clone()
		plus[j] += h
		minus[j] -= h
		fp, fm := t.TransformPoint(plus), t.TransformPoint(minus)
		for i := 0; i < dim; i++ {
			jac.Set(i, j, (fp[i]-fm[i])/(2*h))
		}
	}
	return jac
}

func TestIdentityAndTranslation(t *testing.T) {
	reg := DefaultRegistry()

	id, err := FromParameterMaps(reg, []*params.Map{func() *params.Map {
		m := params.NewMap()
		m.Set(params.KeyTransform, IdentityName)
		m.SetInts(params.KeyFixedImageDimension, 2)
		return m
	}()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Identity failed: %v", err)
	}
	if diff := cmp.Diff(models.Point{1, 2}, id.TransformPoint(models.Point{1, 2})); diff != "" {
		t.Errorf("Identity moved point (-want +got):\n%s", diff)
	}

	tr, err := FromParameterMaps(reg, []*params.Map{translationMap(1, -2, 0.5)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Translation failed: %v", err)
	}
	if tr.Dimension() != 3 {
		t.Errorf("Expected 3-D translation, got %d-D", tr.Dimension())
	}
	if diff := cmp.Diff(models.Point{2, 0, 3.5}, tr.TransformPoint(models.Point{1, 2, 3})); diff != "" {
		t.Errorf("Translation mismatch (-want +got):\n%s", diff)
	}
	if !mat.Equal(tr.Jacobian(models.Point{0, 0, 0}), identityMatrix(3)) {
		t.Error("Translation Jacobian should be the identity")
	}
}

func TestAffineCenterOfRotation(t *testing.T) {
	// 90 degree rotation about (1, 1) followed by a shift of (0, 2)
	values := []float64{0, -1, 1, 0, 0, 2}
	tr, err := FromParameterMaps(DefaultRegistry(), []*params.Map{affineMap(values, []float64{1, 1})}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Affine failed: %v", err)
	}
	got := tr.TransformPoint(models.Point{2, 1})
	if diff := cmp.Diff(models.Point{1, 4}, got, approx); diff != "" {
		t.Errorf("Affine mismatch (-want +got):\n%s", diff)
	}
	want := mat.NewDense(2, 2, []float64{0, -1, 1, 0})
	if !mat.EqualApprox(tr.Jacobian(models.Point{5, 5}), want, 1e-12) {
		t.Errorf("Affine Jacobian = %v", mat.Formatted(tr.Jacobian(models.Point{5, 5})))
	}

	if _, err := FromParameterMaps(DefaultRegistry(), []*params.Map{affineMap([]float64{1, 2, 3}, nil)}, zerolog.Nop()); !errors.Is(err, errdefs.ErrConfiguration) {
		t.Errorf("Expected configuration error for short affine, got %v", err)
	}
}

func TestCombinationModes(t *testing.T) {
	scale := affineMap([]float64{2, 0, 0, 0, 3, 0, 0, 0, 1, 0, 0, 0}, nil)
	shift := translationMap(1, 1, 1)
	p := models.Point{1, 2, 3}

	composeShift := shift.Clone()
	composeShift.Set(KeyHowToCombineTransforms, string(Compose))
	composed, err := FromParameterMaps(DefaultRegistry(), []*params.Map{scale, composeShift}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if diff := cmp.Diff(models.Point{3, 7, 4}, composed.TransformPoint(p), approx); diff != "" {
		t.Errorf("Compose mismatch (-want +got):\n%s", diff)
	}

	addShift := shift.Clone()
	addShift.Set(KeyHowToCombineTransforms, string(Add))
	added, err := FromParameterMaps(DefaultRegistry(), []*params.Map{scale, addShift}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	// (2,6,3) + (1,1,1)
	if diff := cmp.Diff(models.Point{3, 7, 4}, added.TransformPoint(p), approx); diff != "" {
		t.Errorf("Add mismatch (-want +got):\n%s", diff)
	}

	bad := shift.Clone()
	bad.Set(KeyHowToCombineTransforms, "Multiply")
	if _, err := FromParameterMaps(DefaultRegistry(), []*params.Map{scale, bad}, zerolog.Nop()); !errors.Is(err, errdefs.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

// TestCombinationJacobian checks the chain rule against finite differences
// with a nonlinear kernel transform in the chain
func TestCombinationJacobian(t *testing.T) {
	source := []models.Point{{0, 0, 0}, {10, 0, 0}, {0, 10, 0}, {0, 0, 10}, {10, 10, 10}, {5, 3, 8}}
	target := make([]models.Point, len(source))
	for i, s := range source {
		target[i] = models.Point{s[0] + 1, s[1] + 0.1*s[0], s[2] - 0.5 + 0.02*s[1]*s[1]}
	}
	k, err := kernel.New(3)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	k.SelectFamily("ElasticBodySpline")
	if err := k.Fit(source, target, kernel.DefaultOptions()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	affine, err := NewAffine([]float64{1.1, 0.2, 0, 0, 0.9, 0.1, 0.05, 0, 1}, []float64{0.5, -1, 2}, []float64{3, 3, 3})
	if err != nil {
		t.Fatalf("NewAffine failed: %v", err)
	}

	p := models.Point{4, 6, 2}
	for _, mode := range []CombineMode{Compose, Add} {
		c, err := NewCombination(affine, NewKernel(k), mode)
		if err != nil {
			t.Fatalf("NewCombination failed: %v", err)
		}
		if !mat.EqualApprox(c.Jacobian(p), numericJacobian(c, p), 1e-5) {
			t.Errorf("%s: Jacobian\n%v\ndoes not match finite differences\n%v",
				mode, mat.Formatted(c.Jacobian(p)), mat.Formatted(numericJacobian(c, p)))
		}
	}

	if _, err := NewCombination(NewIdentity(2), NewKernel(k), Compose); !errors.Is(err, errdefs.ErrConfiguration) {
		t.Errorf("Expected configuration error for mixed dimensions, got %v", err)
	}
}

func TestKernelFactoryRoundTrip(t *testing.T) {
	source := []models.Point{{0, 0}, {10, 0}, {0, 10}, {10, 10}, {4, 6}}
	target := []models.Point{{1, 0}, {11, 1}, {0, 12}, {10, 9}, {5, 5}}
	k, _ := kernel.New(2)
	k.SelectFamily("ThinPlateR2LogRSpline")
	if err := k.Fit(source, target, kernel.DefaultOptions()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	tr, err := FromParameterMaps(DefaultRegistry(), []*params.Map{params.WriteKernel(k)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("FromParameterMaps failed: %v", err)
	}
	if tr.Name() != KernelName {
		t.Errorf("Name = %q", tr.Name())
	}
	for i, s := range source {
		if diff := cmp.Diff(target[i], tr.TransformPoint(s), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Errorf("landmark %d not interpolated (-want +got):\n%s", i, diff)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()
	if err := reg.Register(AffineName, newAffineFromMap); err == nil {
		t.Error("Duplicate registration should fail")
	}
	if _, err := reg.Load("BSplineTransform"); !errors.Is(err, errdefs.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}

	if _, err := FromParameterMaps(reg, []*params.Map{translationMap(1, 2), translationMap(3, 4)}, zerolog.Nop()); err != nil {
		t.Fatalf("FromParameterMaps failed: %v", err)
	}
	if diff := cmp.Diff([]string{TranslationName}, reg.Loaded()); diff != "" {
		t.Errorf("Loaded mismatch (-want +got):\n%s", diff)
	}
	reg.UnloadComponents()
	if len(reg.Loaded()) != 0 {
		t.Errorf("Expected no loaded components, got %v", reg.Loaded())
	}

	if _, err := FromParameterMaps(reg, nil, zerolog.Nop()); !errors.Is(err, errdefs.ErrConfiguration) {
		t.Errorf("Expected configuration error for empty chain, got %v", err)
	}
	if _, err := FromParameterMaps(reg, []*params.Map{params.NewMap()}, zerolog.Nop()); !errors.Is(err, errdefs.ErrMissingParameter) {
		t.Errorf("Expected missing parameter error, got %v", err)
	}
}
