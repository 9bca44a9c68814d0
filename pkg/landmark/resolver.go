package landmark

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
)

// DuplicateTolerance is the distance below which two fixed landmarks are
// reported as duplicates
const DuplicateTolerance = 1e-6

// PointTransformer maps a physical point, e.g. an initial transform
type PointTransformer interface {
	TransformPoint(p models.Point) models.Point
}

// Resolver turns landmark files into physical point lists
type Resolver struct {
	fixed  *models.Geometry
	moving *models.Geometry

	// initial, when set together with compose, is applied to every
	// resolved fixed-side landmark
	initial PointTransformer
	compose bool

	logger zerolog.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithFixedImage sets the geometry used to convert fixed-side indices
func WithFixedImage(g models.Geometry) Option {
	return func(r *Resolver) { r.fixed = &g }
}

// WithMovingImage sets the geometry used to convert moving-side indices
func WithMovingImage(g models.Geometry) Option {
	return func(r *Resolver) { r.moving = &g }
}

// WithInitialTransform warps fixed-side landmarks through t when compose is true
func WithInitialTransform(t PointTransformer, compose bool) Option {
	return func(r *Resolver) {
		r.initial = t
		r.compose = compose
	}
}

// WithLogger sets the logger used for user feedback
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve reads a landmark file and returns physical points. Index points
// are rounded to the nearest integer index and mapped through the fixed
// (fixedSide) or moving image geometry. Fixed-side points are finally
// passed through the initial transform when composition is enabled.
func (r *Resolver) Resolve(path string, fixedSide bool) (models.PointSet, error) {
	side := "moving"
	if fixedSide {
		side = "fixed"
	}

	ps, err := ReadPointFile(path)
	if err != nil {
		return models.PointSet{}, err
	}

	if ps.AreIndices {
		r.logger.Info().Str("side", side).Msg("landmarks are specified as image indices")
	} else {
		r.logger.Info().Str("side", side).Msg("landmarks are specified in world coordinates")
	}
	r.logger.Info().Int("points", ps.Len()).Msg("number of specified input points")

	if ps.AreIndices {
		g := r.moving
		if fixedSide {
			g = r.fixed
		}
		if g == nil {
			return models.PointSet{}, fmt.Errorf("%w: %s image required to convert landmark indices in %s",
				errdefs.ErrConfiguration, side, path)
		}
		points, err := IndicesToPhysical(ps.Points, *g)
		if err != nil {
			return models.PointSet{}, err
		}
		ps = models.PointSet{Points: points, AreIndices: false}
	}

	if fixedSide && r.compose && r.initial != nil {
		for i, p := range ps.Points {
			ps.Points[i] = r.initial.TransformPoint(p)
		}
	}

	return ps, nil
}

// ResolvePair resolves the fixed (source) and moving (target) landmarks.
// An empty movingPath means no correspondence was supplied: target is nil
// and the caller should treat the kernel transform as the identity.
func (r *Resolver) ResolvePair(fixedPath, movingPath string) (source, target []models.Point, err error) {
	if fixedPath == "" {
		return nil, nil, fmt.Errorf("%w: fixed image landmarks are required", errdefs.ErrConfiguration)
	}

	src, err := r.Resolve(fixedPath, true)
	if err != nil {
		return nil, nil, err
	}
	for _, pair := range FindDuplicates(src.Points, DuplicateTolerance) {
		r.logger.Warn().Ints("landmarks", pair[:]).Msg("duplicate fixed landmarks; the kernel system may be singular")
	}

	if movingPath == "" {
		r.logger.Info().Msg("moving landmarks unspecified, assuming identity")
		return src.Points, nil, nil
	}

	tgt, err := r.Resolve(movingPath, false)
	if err != nil {
		return nil, nil, err
	}
	if src.Len() != tgt.Len() {
		return nil, nil, fmt.Errorf("%w: %d fixed landmarks but %d moving landmarks",
			errdefs.ErrConfiguration, src.Len(), tgt.Len())
	}
	if src.Len() > 0 && src.Dimension() != tgt.Dimension() {
		return nil, nil, fmt.Errorf("%w: fixed landmarks are %d-D, moving landmarks are %d-D",
			errdefs.ErrConfiguration, src.Dimension(), tgt.Dimension())
	}
	return src.Points, tgt.Points, nil
}

// IndicesToPhysical rounds each index point to the nearest integer index
// (halves round up) and maps it to physical space
func IndicesToPhysical(points []models.Point, g models.Geometry) ([]models.Point, error) {
	out := make([]models.Point, len(points))
	index := make([]int, g.Dimension())
	for i, p := range points {
		if len(p) != g.Dimension() {
			return nil, fmt.Errorf("%w: %d-D index point %d for a %d-D image",
				errdefs.ErrConfiguration, len(p), i, g.Dimension())
		}
		for d, v := range p {
			index[d] = int(math.Floor(v + 0.5))
		}
		out[i] = g.IndexToPhysical(index)
	}
	return out, nil
}
