package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
)

// CombineMode is the value of HowToCombineTransforms
type CombineMode string

const (
	// Compose applies the initial transform first: T(x) = current(initial(x))
	Compose CombineMode = "Compose"
	// Add sums displacements: T(x) = x + (initial(x) - x) + (current(x) - x)
	Add CombineMode = "Add"
)

// ParseCombineMode accepts Compose and Add; the empty string means Compose
func ParseCombineMode(s string) (CombineMode, error) {
	switch CombineMode(s) {
	case "", Compose:
		return Compose, nil
	case Add:
		return Add, nil
	default:
		return "", fmt.Errorf("%w: unknown HowToCombineTransforms %q", errdefs.ErrConfiguration, s)
	}
}

// Combination chains a current transform onto an initial one
type Combination struct {
	initial Transform
	current Transform
	mode    CombineMode
}

// NewCombination combines two transforms of equal dimension
func NewCombination(initial, current Transform, mode CombineMode) (*Combination, error) {
	if initial.Dimension() != current.Dimension() {
		return nil, fmt.Errorf("%w: cannot combine a %d-D %s with a %d-D %s", errdefs.ErrConfiguration,
			initial.Dimension(), initial.Name(), current.Dimension(), current.Name())
	}
	if mode != Compose && mode != Add {
		return nil, fmt.Errorf("%w: unknown combination mode %q", errdefs.ErrConfiguration, mode)
	}
	return &Combination{initial: initial, current: current, mode: mode}, nil
}

func (c *Combination) Name() string      { return c.current.Name() }
func (c *Combination) Dimension() int    { return c.current.Dimension() }
func (c *Combination) Mode() CombineMode { return c.mode }

// Initial returns the transform applied first
func (c *Combination) Initial() Transform { return c.initial }

// Current returns the most recently added transform
func (c *Combination) Current() Transform { return c.current }

func (c *Combination) TransformPoint(p models.Point) models.Point {
	if c.mode == Compose {
		return c.current.TransformPoint(c.initial.TransformPoint(p))
	}
	a := c.initial.TransformPoint(p)
	b := c.current.TransformPoint(p)
	out := make(models.Point, len(p))
	for i := range p {
		out[i] = a[i] + b[i] - p[i]
	}
	return out
}

func (c *Combination) Jacobian(p models.Point) *mat.Dense {
	var out mat.Dense
	if c.mode == Compose {
		inner := c.initial.Jacobian(p)
		outer := c.current.Jacobian(c.initial.TransformPoint(p))
		out.Mul(outer, inner)
		return &out
	}
	out.Add(c.initial.Jacobian(p), c.current.Jacobian(p))
	out.Sub(&out, identityMatrix(c.Dimension()))
	return &out
}
