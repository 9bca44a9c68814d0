package params

import (
	"fmt"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
	"splinewarp/pkg/kernel"
)

// Parameter names understood by the kernel transform store
const (
	KeyTransform              = "Transform"
	KeyNumberOfParameters     = "NumberOfParameters"
	KeyTransformParameters    = "TransformParameters"
	KeyFixedImageDimension    = "FixedImageDimension"
	KeySplineKernelType       = "SplineKernelType"
	KeySplineRelaxationFactor = "SplineRelaxationFactor"
	KeySplinePoissonRatio     = "SplinePoissonRatio"
	KeyMatrixInversionMethod  = "TPSMatrixInversionMethod"
	KeyFixedImageLandmarks    = "FixedImageLandmarks"
	KeySplineCoefficients     = "SplineCoefficients"
)

// SplineKernelTransformName is the Transform value of kernel transforms
const SplineKernelTransformName = "SplineKernelTransform"

// KernelOptions reads the fit-time options of a kernel transform. The
// Poisson ratio is only read for the elastic families.
func KernelOptions(m *Map, family kernel.Family) (kernel.Options, error) {
	opts := kernel.DefaultOptions()

	stiffness, err := m.Float(KeySplineRelaxationFactor, 0)
	if err != nil {
		return opts, err
	}
	opts.Stiffness = stiffness

	if family.IsElastic() {
		ratio, err := m.Float(KeySplinePoissonRatio, kernel.DefaultPoissonRatio)
		if err != nil {
			return opts, err
		}
		opts.PoissonRatio = ratio
	}

	method, err := kernel.ParseInversionMethod(m.Value(KeyMatrixInversionMethod, string(kernel.SVD)))
	if err != nil {
		return opts, err
	}
	opts.Inversion = method
	return opts, nil
}

// WriteKernel serialises a kernel transform. Besides the fixed landmarks the
// map carries the fitted coefficients so ReadKernel does not solve again.
func WriteKernel(t *kernel.Transform) *Map {
	m := NewMap()
	source := models.PointSet{Points: t.SourceLandmarks()}
	target := models.PointSet{Points: t.TargetLandmarks()}
	if target.Len() == 0 {
		// identity: the moving landmarks coincide with the fixed ones
		target = source
	}

	m.Set(KeyTransform, SplineKernelTransformName)
	m.SetInts(KeyNumberOfParameters, t.NumberOfParameters())
	m.SetFloats(KeyTransformParameters, target.Flatten()...)
	m.SetInts(KeyFixedImageDimension, t.Dimension())
	m.Set(KeySplineKernelType, t.Family().String())
	if t.Family().IsElastic() {
		m.SetFloats(KeySplinePoissonRatio, t.PoissonRatio())
	}
	m.SetFloats(KeySplineRelaxationFactor, t.Stiffness())
	m.Set(KeyMatrixInversionMethod, string(t.Inversion()))
	m.SetFloats(KeyFixedImageLandmarks, source.Flatten()...)
	if !t.IsIdentity() {
		m.SetFloats(KeySplineCoefficients, t.Coefficients()...)
	}
	return m
}

// ReadKernel reconstructs a kernel transform from a parameter map. The
// family is selected before the landmarks are installed because the
// coefficient layout depends on it.
func ReadKernel(m *Map) (*kernel.Transform, error) {
	if name := m.Value(KeyTransform, SplineKernelTransformName); name != SplineKernelTransformName {
		return nil, fmt.Errorf("%w: transform %q is not a %s", errdefs.ErrConfiguration, name, SplineKernelTransformName)
	}

	kernelType := m.Value(KeySplineKernelType, "")
	if kernelType == "" {
		return nil, fmt.Errorf("%w: %s is not given in the transform parameter map", errdefs.ErrMissingParameter, KeySplineKernelType)
	}

	dim, err := m.Int(KeyFixedImageDimension, 3)
	if err != nil {
		return nil, err
	}
	t, err := kernel.New(dim)
	if err != nil {
		return nil, err
	}
	if !t.SelectFamily(kernelType) {
		return nil, fmt.Errorf("%w: the kernel type %s is not supported", errdefs.ErrConfiguration, kernelType)
	}

	opts, err := KernelOptions(m, t.Family())
	if err != nil {
		return nil, err
	}

	if !m.Has(KeyNumberOfParameters) {
		return nil, fmt.Errorf("%w: %s is not given in the transform parameter map", errdefs.ErrMissingParameter, KeyNumberOfParameters)
	}
	n, err := m.Int(KeyNumberOfParameters, 0)
	if err != nil {
		return nil, err
	}

	if !m.Has(KeyFixedImageLandmarks) {
		return nil, fmt.Errorf("%w: %s is not given in the transform parameter map", errdefs.ErrMissingParameter, KeyFixedImageLandmarks)
	}
	fixed, err := m.Floats(KeyFixedImageLandmarks)
	if err != nil {
		return nil, err
	}
	if len(fixed) != n {
		return nil, fmt.Errorf("%w: %s declares %d values but %s has %d",
			errdefs.ErrConfiguration, KeyNumberOfParameters, n, KeyFixedImageLandmarks, len(fixed))
	}
	source, err := models.Unflatten(fixed, dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errdefs.ErrConfiguration, KeyFixedImageLandmarks, err)
	}

	var target []models.Point
	if m.Has(KeyTransformParameters) {
		moving, err := m.Floats(KeyTransformParameters)
		if err != nil {
			return nil, err
		}
		if len(moving) != n {
			return nil, fmt.Errorf("%w: %s declares %d values but %s has %d",
				errdefs.ErrConfiguration, KeyNumberOfParameters, n, KeyTransformParameters, len(moving))
		}
		if target, err = models.Unflatten(moving, dim); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errdefs.ErrConfiguration, KeyTransformParameters, err)
		}
	}

	if m.Has(KeySplineCoefficients) {
		w, err := m.Floats(KeySplineCoefficients)
		if err != nil {
			return nil, err
		}
		if err := t.Restore(source, target, w, opts); err != nil {
			return nil, err
		}
		return t, nil
	}

	if target == nil || samePoints(source, target) {
		if err := t.Restore(source, target, nil, opts); err != nil {
			return nil, err
		}
		return t, nil
	}

	// maps written without coefficients: fall back to solving the system
	if err := t.Fit(source, target, opts); err != nil {
		return nil, err
	}
	return t, nil
}

func samePoints(a, b []models.Point) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		for d := range a[i] {
			if a[i][d] != b[i][d] {
				return false
			}
		}
	}
	return true
}
