// Package kernel implements spline kernel transforms: thin-plate, thin-plate
// R2LogR, volume, elastic-body and elastic-body-reciprocal splines fitted to
// corresponding landmark sets.
//
// A fitted transform maps a point p to
//
//	T(p) = p + A p + b + sum_k G(p - s_k) d_k
//
// where s_k are the source landmarks, G is the family's kernel and the
// coefficients d_k, A and b solve the kernel system built in buildSystem.
package kernel

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
)

// DefaultPoissonRatio is used by the elastic families when none is configured
const DefaultPoissonRatio = 0.3

// Options holds the fit-time parameters of a kernel transform
type Options struct {
	// Stiffness is the relaxation factor; 0 gives an interpolating spline,
	// larger values trade landmark fidelity for smoothness
	Stiffness float64

	// PoissonRatio is only used by the elastic-body families
	PoissonRatio float64

	// Inversion selects the linear solver
	Inversion InversionMethod
}

// DefaultOptions returns an interpolating, SVD-solved configuration
func DefaultOptions() Options {
	return Options{
		Stiffness:    0,
		PoissonRatio: DefaultPoissonRatio,
		Inversion:    SVD,
	}
}

// Transform is a spline kernel transform in 2 or 3 dimensions.
//
// Evaluate and Jacobian do not modify the transform and may be called
// concurrently once fitting is done.
type Transform struct {
	dim    int
	family Family

	stiffness    float64
	poissonRatio float64
	inversion    InversionMethod

	source []models.Point
	target []models.Point

	// w is the raw solution of the kernel system; d, a and b are views of it
	w        []float64
	d        [][]float64
	a        []float64 // row-major dim x dim
	b        []float64
	identity bool

	logger zerolog.Logger
}

// New returns an empty transform of the given dimension in the Unknown family
func New(dim int) (*Transform, error) {
	if dim != 2 && dim != 3 {
		return nil, fmt.Errorf("%w: kernel transforms support 2-D and 3-D, got %d-D", errdefs.ErrConfiguration, dim)
	}
	t := &Transform{
		dim:          dim,
		family:       Unknown,
		poissonRatio: DefaultPoissonRatio,
		inversion:    SVD,
		logger:       zerolog.Nop(),
	}
	t.SetIdentity()
	return t, nil
}

// SetLogger attaches a logger used for fit progress
func (t *Transform) SetLogger(l zerolog.Logger) { t.logger = l }

// SelectFamily chooses the kernel by its parameter-file name. In 2-D only
// the R2LogR kernel is valid and is selected whatever the name. In 3-D an
// unrecognised name leaves the transform in the Unknown family and returns
// false. Selecting a family discards any previous fit.
func (t *Transform) SelectFamily(name string) bool {
	t.source, t.target = nil, nil
	t.SetIdentity()

	if t.dim == 2 {
		t.family = ThinPlateR2LogR
		return true
	}

	f, ok := ParseFamily(name)
	t.family = f
	return ok
}

// Family returns the selected kernel family
func (t *Transform) Family() Family { return t.family }

// Dimension returns the spatial dimension
func (t *Transform) Dimension() int { return t.dim }

// Stiffness returns the relaxation factor used by the last fit
func (t *Transform) Stiffness() float64 { return t.stiffness }

// PoissonRatio returns the Poisson ratio of the elastic families
func (t *Transform) PoissonRatio() float64 { return t.poissonRatio }

// Inversion returns the solver used by the last fit
func (t *Transform) Inversion() InversionMethod { return t.inversion }

// IsIdentity reports whether the transform currently maps every point to itself
func (t *Transform) IsIdentity() bool { return t.identity }

// SourceLandmarks returns a copy of the fixed-image landmarks
func (t *Transform) SourceLandmarks() []models.Point { return clonePoints(t.source) }

// TargetLandmarks returns a copy of the moving-image landmarks
func (t *Transform) TargetLandmarks() []models.Point { return clonePoints(t.target) }

// NumberOfParameters returns the number of landmark coordinates, N*D
func (t *Transform) NumberOfParameters() int { return len(t.source) * t.dim }

// Coefficients returns a copy of the fitted system solution, laid out as
// the per-landmark vectors d_k, then A column by column, then b
func (t *Transform) Coefficients() []float64 { return append([]float64(nil), t.w...) }

// SetIdentity discards the fitted coefficients
func (t *Transform) SetIdentity() {
	t.w = nil
	t.d = nil
	t.a = make([]float64, t.dim*t.dim)
	t.b = make([]float64, t.dim)
	t.identity = true
}

func (t *Transform) applyOptions(opts Options) error {
	if opts.Stiffness < 0 {
		return fmt.Errorf("%w: relaxation factor must be non-negative, got %g", errdefs.ErrConfiguration, opts.Stiffness)
	}
	method, err := ParseInversionMethod(string(opts.Inversion))
	if err != nil {
		return err
	}
	t.stiffness = opts.Stiffness
	t.inversion = method
	if t.family.IsElastic() {
		t.poissonRatio = opts.PoissonRatio
	}
	return nil
}

func (t *Transform) checkPoints(what string, points []models.Point) error {
	for i, p := range points {
		if len(p) != t.dim {
			return fmt.Errorf("%w: %s landmark %d has dimension %d, transform is %d-D",
				errdefs.ErrConfiguration, what, i, len(p), t.dim)
		}
	}
	return nil
}

// Fit solves for the coefficients carrying source onto target. With no
// target landmarks the transform becomes the identity.
//
// The fit assembles the kernel system of the selected family over the
// source landmarks and solves it with the configured inversion method.
// SVD tolerates rank-deficient systems (duplicate landmarks, or fewer than
// D+1 of them) and returns the minimum-norm solution, while QR reports them
// as ErrSingularSystem. The solution is split into the per-landmark
// coefficients d_k, the matrix A and the translation b, which Evaluate and
// Jacobian read without further locking.
func (t *Transform) Fit(source, target []models.Point, opts Options) error {
	if t.family == Unknown {
		return fmt.Errorf("%w: kernel family not selected", errdefs.ErrConfiguration)
	}
	if err := t.applyOptions(opts); err != nil {
		return err
	}
	if err := t.checkPoints("source", source); err != nil {
		return err
	}
	if err := t.checkPoints("target", target); err != nil {
		return err
	}

	t.source = clonePoints(source)
	t.target = nil
	t.SetIdentity()

	if len(target) == 0 {
		t.logger.Info().Msg("moving landmarks unspecified, assuming identity")
		return nil
	}
	if len(source) != len(target) {
		return fmt.Errorf("%w: %d source landmarks but %d target landmarks",
			errdefs.ErrConfiguration, len(source), len(target))
	}
	if len(source) == 0 {
		return nil
	}

	start := time.Now()
	t.logger.Info().
		Str("kernel", t.family.String()).
		Int("landmarks", len(source)).
		Str("inversion", string(t.inversion)).
		Msg("setting the landmarks (requiring large matrix inversion)")

	funcs := dispatch[t.family]
	L, Y := buildSystem(source, target, funcs, t.family.alpha(t.poissonRatio), t.stiffness)
	w, err := solveSystem(L, Y, t.inversion)
	if err != nil {
		return err
	}

	t.target = clonePoints(target)
	t.setW(w)

	t.logger.Info().
		Dur("took", time.Since(start)).
		Float64("rms_residual", t.Residual(source, target)).
		Msg("setting the landmarks done")
	return nil
}

// Restore installs previously fitted coefficients without solving the
// kernel system again.
func (t *Transform) Restore(source, target []models.Point, w []float64, opts Options) error {
	if t.family == Unknown {
		return fmt.Errorf("%w: kernel family not selected", errdefs.ErrConfiguration)
	}
	if err := t.applyOptions(opts); err != nil {
		return err
	}
	if err := t.checkPoints("source", source); err != nil {
		return err
	}
	if err := t.checkPoints("target", target); err != nil {
		return err
	}
	if len(target) != 0 && len(target) != len(source) {
		return fmt.Errorf("%w: %d source landmarks but %d target landmarks",
			errdefs.ErrConfiguration, len(source), len(target))
	}

	t.source = clonePoints(source)
	t.target = clonePoints(target)
	t.SetIdentity()
	if len(w) == 0 {
		return nil
	}
	if want := systemSize(len(source), t.dim); len(w) != want {
		return fmt.Errorf("%w: expected %d spline coefficients for %d landmarks, got %d",
			errdefs.ErrConfiguration, want, len(source), len(w))
	}
	t.setW(append([]float64(nil), w...))
	return nil
}

// setW reorganises the system solution into d, A and b
func (t *Transform) setW(w []float64) {
	n := len(t.source)
	dim := t.dim
	t.w = w
	t.d = make([][]float64, n)
	for k := 0; k < n; k++ {
		t.d[k] = w[k*dim : (k+1)*dim]
	}
	ci := n * dim
	for j := 0; j < dim; j++ {
		for i := 0; i < dim; i++ {
			t.a[i*dim+j] = w[ci]
			ci++
		}
	}
	for k := 0; k < dim; k++ {
		t.b[k] = w[ci]
		ci++
	}
	t.identity = false
}

// Evaluate maps a point through the transform
func (t *Transform) Evaluate(p models.Point) models.Point {
	if len(p) != t.dim {
		panic(fmt.Sprintf("kernel: point of dimension %d passed to %d-D transform", len(p), t.dim))
	}
	out := p.Clone()
	if t.identity {
		return out
	}

	dim := t.dim
	for i := 0; i < dim; i++ {
		v := t.b[i]
		for j := 0; j < dim; j++ {
			v += t.a[i*dim+j] * p[j]
		}
		out[i] += v
	}

	funcs := dispatch[t.family]
	alpha := t.family.alpha(t.poissonRatio)
	var gbuf [9]float64
	var xbuf [3]float64
	g := gbuf[:dim*dim]
	x := xbuf[:dim]
	for k, s := range t.source {
		for i := 0; i < dim; i++ {
			x[i] = p[i] - s[i]
		}
		funcs.g(x, alpha, g)
		d := t.d[k]
		for i := 0; i < dim; i++ {
			v := 0.0
			for j := 0; j < dim; j++ {
				v += g[i*dim+j] * d[j]
			}
			out[i] += v
		}
	}
	return out
}

// Jacobian returns the spatial derivative dT_i/dx_j at p
func (t *Transform) Jacobian(p models.Point) *mat.Dense {
	if len(p) != t.dim {
		panic(fmt.Sprintf("kernel: point of dimension %d passed to %d-D transform", len(p), t.dim))
	}
	dim := t.dim
	jac := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		jac[i*dim+i] = 1
	}
	if !t.identity {
		floats.Add(jac, t.a)
		funcs := dispatch[t.family]
		alpha := t.family.alpha(t.poissonRatio)
		x := make([]float64, dim)
		for k, s := range t.source {
			for i := 0; i < dim; i++ {
				x[i] = p[i] - s[i]
			}
			funcs.dg(x, t.d[k], alpha, jac)
		}
	}
	return mat.NewDense(dim, dim, jac)
}

// Residual returns the root-mean-square distance between the transformed
// source points and the target points
func (t *Transform) Residual(source, target []models.Point) float64 {
	if len(source) == 0 {
		return 0
	}
	sum := 0.0
	for i := range source {
		dist := floats.Distance(t.Evaluate(source[i]), target[i], 2)
		sum += dist * dist
	}
	return math.Sqrt(sum / float64(len(source)))
}

func clonePoints(points []models.Point) []models.Point {
	if points == nil {
		return nil
	}
	out := make([]models.Point, len(points))
	for i, p := range points {
		out[i] = p.Clone()
	}
	return out
}
