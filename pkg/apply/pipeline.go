package apply

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/logging"
	"splinewarp/internal/models"
	"splinewarp/pkg/interpolation"
	"splinewarp/pkg/landmark"
	"splinewarp/pkg/params"
	"splinewarp/pkg/transform"
)

// Pipeline applies transforms. One pipeline may serve several runs in
// sequence; concurrent runs need their own registries.
type Pipeline struct {
	registry *transform.Registry
	logger   zerolog.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithRegistry sets the registry transforms are loaded from
func WithRegistry(r *transform.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithLogger sets the logger used when a run does not log to a file
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline over the built-in transforms
func New(opts ...Option) *Pipeline {
	p := &Pipeline{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = transform.DefaultRegistry()
	}
	return p
}

// Registry returns the registry used by the pipeline
func (p *Pipeline) Registry() *transform.Registry { return p.registry }

// RunParameterMaps builds the transform chain from maps, takes the output
// grid and resampling settings from the last map and runs it
func (p *Pipeline) RunParameterMaps(ctx context.Context, maps []*params.Map, input *models.Image, req Request) (*Bundle, error) {
	defer p.registry.UnloadComponents()

	tr, err := transform.FromParameterMaps(p.registry, maps, p.logger)
	if err != nil {
		return nil, err
	}
	if err := req.ApplyParameterMap(maps[len(maps)-1]); err != nil {
		return nil, err
	}
	return p.Run(ctx, tr, input, req)
}

// Run applies tr. The stages are Validate, ResolveOutputDirectory,
// BuildRequest, Evaluate, Collect and Cleanup; Cleanup runs whatever the
// outcome and a failed run returns no bundle.
//
// Evaluate walks the output grid, taken from req.OutputGeometry or else the
// input image, in row chunks spread over req.NumWorkers goroutines. Each
// pixel is mapped through tr once; the same point feeds the resampled
// result, the deformation field and, when asked for, the spatial Jacobian
// and its determinant. A point set, if given, is transformed on the same
// worker layout. Failures during evaluation, panics included, come back
// wrapped in ErrApplication. When req.LogToFile is set the run logs into
// its own file in the output directory instead of the pipeline logger.
func (p *Pipeline) Run(ctx context.Context, tr transform.Transform, input *models.Image, req Request) (bundle *Bundle, err error) {
	logger := p.logger
	var closer io.Closer
	defer func() {
		if err != nil {
			logger.Error().Err(err).Msg("applying transform failed")
		}
		p.registry.UnloadComponents()
		if closer != nil {
			closer.Close()
		}
	}()

	hasImage := input != nil && !input.IsEmpty()
	if err := req.Validate(hasImage); err != nil {
		return nil, err
	}

	dir, err := req.ResolveOutputDirectory(hasImage)
	if err != nil {
		return nil, err
	}

	desc := req.BuildRequest(dir)
	if desc.LogFile != "" {
		logger, closer, err = logging.Setup(logging.Options{
			App:       "transformix",
			LogFile:   desc.LogFile,
			ToFile:    true,
			ToConsole: req.LogToConsole,
			Verbose:   req.Verbose,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errdefs.ErrConfiguration, err)
		}
	}
	logger.Info().
		Str("transform", tr.Name()).
		Str("output_directory", dir).
		Interface("arguments", desc.Arguments).
		Msg("applying transform")

	start := time.Now()
	bundle, err = p.evaluate(ctx, tr, input, req, desc, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrApplication, err)
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("evaluation done")

	if bundle.DeterminantOfSpatialJacobian != nil {
		bundle.JacobianStatistics = determinantStatistics(bundle.DeterminantOfSpatialJacobian)
		s := bundle.JacobianStatistics
		event := logger.Info()
		if s.Folds > 0 {
			event = logger.Warn()
		}
		event.Float64("mean", s.Mean).Float64("std", s.StdDev).
			Float64("min", s.Min).Float64("max", s.Max).Int("folds", s.Folds).
			Msg("determinant of spatial Jacobian")
	}

	if req.WriteOutputs {
		if err := bundle.Save(dir, req.SavePreviews); err != nil {
			return nil, fmt.Errorf("%w: %w", errdefs.ErrApplication, err)
		}
		logger.Info().Strs("files", bundle.Files).Msg("outputs written")
	}
	return bundle, nil
}

// evaluate produces the requested images and points
func (p *Pipeline) evaluate(ctx context.Context, tr transform.Transform, input *models.Image, req Request, desc Descriptor, logger zerolog.Logger) (*Bundle, error) {
	b := &Bundle{Descriptor: desc}
	hasImage := input != nil && !input.IsEmpty()

	var grid *models.Geometry
	switch {
	case req.OutputGeometry != nil:
		grid = req.OutputGeometry
	case hasImage:
		g := input.Geometry
		grid = &g
	}

	if hasImage || desc.DeformationField || desc.SpatialJacobian || desc.Determinant {
		if grid == nil {
			return nil, fmt.Errorf("%w: no output grid: give an input image or Size in the parameter map", errdefs.ErrConfiguration)
		}
		if err := p.evaluateGrid(ctx, tr, *grid, input, req, desc, b, logger); err != nil {
			return nil, err
		}
	}

	if desc.PointSetPath != "" {
		points, err := p.transformPoints(ctx, tr, desc.PointSetPath, grid, input, req.NumWorkers, logger)
		if err != nil {
			return nil, err
		}
		b.Points = points
	}
	return b, nil
}

// rowChunks splits rows into at most 4*workers contiguous ranges
func rowChunks(rows, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	n := workers * 4
	if n > rows {
		n = rows
	}
	if n < 1 {
		return nil
	}
	per := (rows + n - 1) / n
	var chunks [][2]int
	for lo := 0; lo < rows; lo += per {
		hi := lo + per
		if hi > rows {
			hi = rows
		}
		chunks = append(chunks, [2]int{lo, hi})
	}
	return chunks
}

// guard turns a panic inside fn into an error
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%v", r)
			}
		}()
		return fn()
	}
}

func (p *Pipeline) evaluateGrid(ctx context.Context, tr transform.Transform, grid models.Geometry, input *models.Image, req Request, desc Descriptor, b *Bundle, logger zerolog.Logger) error {
	if err := grid.Validate(); err != nil {
		return fmt.Errorf("%w: output grid: %v", errdefs.ErrConfiguration, err)
	}
	if grid.NumberOfPixels() == 0 {
		return fmt.Errorf("%w: output grid has no pixels", errdefs.ErrConfiguration)
	}
	dim := grid.Dimension()
	if dim != tr.Dimension() {
		return fmt.Errorf("%w: %d-D output grid for a %d-D transform", errdefs.ErrConfiguration, dim, tr.Dimension())
	}

	var sampler *interpolation.Sampler
	if input != nil && !input.IsEmpty() {
		if input.Dimension() != dim {
			return fmt.Errorf("%w: %d-D input image for a %d-D transform", errdefs.ErrConfiguration, input.Dimension(), dim)
		}
		var err error
		if sampler, err = interpolation.NewSampler(input, req.Interpolator, req.DefaultPixelValue); err != nil {
			return err
		}
		b.Result = models.NewImage(grid, input.Components)
	}
	if desc.DeformationField {
		b.DeformationField = models.NewImage(grid, dim)
	}
	if desc.SpatialJacobian {
		b.SpatialJacobian = models.NewImage(grid, dim*dim)
	}
	if desc.Determinant {
		b.DeterminantOfSpatialJacobian = models.NewImage(grid, 1)
	}

	logger.Debug().Ints("size", grid.Size).Int("workers", req.NumWorkers).Msg("evaluating output grid")

	width := grid.Size[0]
	rows := grid.NumberOfPixels() / width
	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range rowChunks(rows, req.NumWorkers) {
		lo, hi := chunk[0], chunk[1]
		g.Go(guard(func() error {
			index := make([]int, dim)
			for row := lo; row < hi; row++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for off := row * width; off < (row+1)*width; off++ {
					grid.IndexOf(off, index)
					pt := grid.IndexToPhysical(index)
					q := tr.TransformPoint(pt)

					if sampler != nil {
						sampler.Sample(q, b.Result.Pixel(off))
					}
					if b.DeformationField != nil {
						px := b.DeformationField.Pixel(off)
						for i := range px {
							px[i] = q[i] - pt[i]
						}
					}
					if b.SpatialJacobian == nil && b.DeterminantOfSpatialJacobian == nil {
						continue
					}
					jac := tr.Jacobian(pt)
					if b.SpatialJacobian != nil {
						px := b.SpatialJacobian.Pixel(off)
						for i := 0; i < dim; i++ {
							for j := 0; j < dim; j++ {
								px[i*dim+j] = jac.At(i, j)
							}
						}
					}
					if b.DeterminantOfSpatialJacobian != nil {
						b.DeterminantOfSpatialJacobian.Pixel(off)[0] = mat.Det(jac)
					}
				}
			}
			return nil
		}))
	}
	return g.Wait()
}

func (p *Pipeline) transformPoints(ctx context.Context, tr transform.Transform, path string, grid *models.Geometry, input *models.Image, workers int, logger zerolog.Logger) ([]TransformedPoint, error) {
	ps, err := landmark.ReadPointFile(path)
	if err != nil {
		return nil, err
	}
	if ps.Len() > 0 && ps.Dimension() != tr.Dimension() {
		return nil, fmt.Errorf("%w: %d-D points for a %d-D transform", errdefs.ErrConfiguration, ps.Dimension(), tr.Dimension())
	}
	if ps.AreIndices && grid == nil {
		return nil, fmt.Errorf("%w: point indices in %s need an input image or an output grid", errdefs.ErrConfiguration, path)
	}
	logger.Info().Int("points", ps.Len()).Bool("indices", ps.AreIndices).Msg("transforming input points")

	out := make([]TransformedPoint, ps.Len())
	for i, pt := range ps.Points {
		if ps.AreIndices {
			index := roundIndex(pt)
			out[i].InputIndex = index
			out[i].InputPoint = grid.IndexToPhysical(index)
		} else {
			out[i].InputPoint = pt.Clone()
		}
	}

	var moving *models.Image
	if input != nil && !input.IsEmpty() && input.Dimension() == tr.Dimension() {
		moving = input
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range rowChunks(len(out), workers) {
		lo, hi := chunk[0], chunk[1]
		g.Go(guard(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				q := tr.TransformPoint(out[i].InputPoint)
				out[i].OutputPoint = q
				out[i].Deformation = make([]float64, len(q))
				for d := range q {
					out[i].Deformation[d] = q[d] - out[i].InputPoint[d]
				}
				if moving != nil {
					ci, err := moving.PhysicalToContinuousIndex(q)
					if err != nil {
						return err
					}
					out[i].OutputIndexMoving = roundIndex(ci)
				}
			}
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
