package transform

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"splinewarp/internal/models"
	"splinewarp/pkg/kernel"
	"splinewarp/pkg/params"
)

// Kernel adapts a fitted spline kernel transform
type Kernel struct {
	*kernel.Transform
}

// NewKernel wraps t
func NewKernel(t *kernel.Transform) *Kernel { return &Kernel{Transform: t} }

func (k *Kernel) Name() string { return KernelName }

func (k *Kernel) TransformPoint(p models.Point) models.Point { return k.Evaluate(p) }

func (k *Kernel) Jacobian(p models.Point) *mat.Dense { return k.Transform.Jacobian(p) }

func newKernelFromMap(m *params.Map, logger zerolog.Logger) (Transform, error) {
	t, err := params.ReadKernel(m)
	if err != nil {
		return nil, err
	}
	t.SetLogger(logger)
	logger.Debug().
		Str("kernel", t.Family().String()).
		Int("landmarks", len(t.SourceLandmarks())).
		Bool("identity", t.IsIdentity()).
		Msg("kernel transform restored")
	return NewKernel(t), nil
}
