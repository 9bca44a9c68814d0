package kernel

import (
	"fmt"
	"math"
)

// kernelFuncs evaluates one kernel family. For an offset x = p - landmark
// with r = |x|:
//
//	g  writes G(x) row-major into out (len D*D)
//	dg adds the derivative of G(x)·d with respect to x into jac, row-major,
//	   jac[i*D+m] += d(G(x)·d)_i / dx_m
//
// relax is the sign the stiffness enters the diagonal of K with. Kernels
// linear in r are conditionally negative definite; they are relaxed with
// K - stiffness*I so the residual grows with the stiffness.
type kernelFuncs struct {
	g     func(x []float64, alpha float64, out []float64)
	dg    func(x, d []float64, alpha float64, jac []float64)
	relax float64
}

var dispatch = map[Family]kernelFuncs{
	ThinPlate:             {g: thinPlateG, dg: thinPlateDG, relax: -1},
	ThinPlateR2LogR:       {g: r2logrG, dg: r2logrDG, relax: 1},
	Volume:                {g: volumeG, dg: volumeDG, relax: 1},
	ElasticBody:           {g: elasticBodyG, dg: elasticBodyDG, relax: 1},
	ElasticBodyReciprocal: {g: elasticBodyReciprocalG, dg: elasticBodyReciprocalDG, relax: -1},
}

func init() {
	for _, f := range Families() {
		if _, ok := dispatch[f]; !ok {
			panic(fmt.Sprintf("kernel: no kernel functions registered for %v", f))
		}
	}
}

func norm(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return math.Sqrt(s)
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// radialG fills out with phi*I
func radialG(dim int, phi float64, out []float64) {
	for i := range out {
		out[i] = 0
	}
	for i := 0; i < dim; i++ {
		out[i*dim+i] = phi
	}
}

// radialDG adds s * x_m * d_i, where s = phi'(r)/r
func radialDG(x, d []float64, s float64, jac []float64) {
	dim := len(x)
	for i := 0; i < dim; i++ {
		for m := 0; m < dim; m++ {
			jac[i*dim+m] += s * x[m] * d[i]
		}
	}
}

// G = r I
func thinPlateG(x []float64, _ float64, out []float64) {
	radialG(len(x), norm(x), out)
}

func thinPlateDG(x, d []float64, _ float64, jac []float64) {
	r := norm(x)
	if r == 0 {
		return
	}
	radialDG(x, d, 1/r, jac)
}

// G = r^2 log(r) I
func r2logrG(x []float64, _ float64, out []float64) {
	r := norm(x)
	phi := 0.0
	if r > 0 {
		phi = r * r * math.Log(r)
	}
	radialG(len(x), phi, out)
}

func r2logrDG(x, d []float64, _ float64, jac []float64) {
	r := norm(x)
	if r == 0 {
		return
	}
	radialDG(x, d, 2*math.Log(r)+1, jac)
}

// G = r^3 I
func volumeG(x []float64, _ float64, out []float64) {
	r := norm(x)
	radialG(len(x), r*r*r, out)
}

func volumeDG(x, d []float64, _ float64, jac []float64) {
	radialDG(x, d, 3*norm(x), jac)
}

// G = alpha r^3 I - 3 r x x^T
func elasticBodyG(x []float64, alpha float64, out []float64) {
	dim := len(x)
	r := norm(x)
	radial := alpha * r * r * r
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			out[i*dim+j] = -3 * r * x[i] * x[j]
		}
		out[i*dim+i] += radial
	}
}

func elasticBodyDG(x, d []float64, alpha float64, jac []float64) {
	dim := len(x)
	r := norm(x)
	if r == 0 {
		return
	}
	s := dot(x, d)
	for i := 0; i < dim; i++ {
		for m := 0; m < dim; m++ {
			v := 3*alpha*r*x[m]*d[i] - 3*(x[m]/r)*x[i]*s - 3*r*x[i]*d[m]
			if i == m {
				v -= 3 * r * s
			}
			jac[i*dim+m] += v
		}
	}
}

// G = alpha r I - x x^T / r, zero at the origin
func elasticBodyReciprocalG(x []float64, alpha float64, out []float64) {
	dim := len(x)
	r := norm(x)
	if r == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			out[i*dim+j] = -x[i] * x[j] / r
		}
		out[i*dim+i] += alpha * r
	}
}

func elasticBodyReciprocalDG(x, d []float64, alpha float64, jac []float64) {
	dim := len(x)
	r := norm(x)
	if r == 0 {
		return
	}
	s := dot(x, d)
	r3 := r * r * r
	for i := 0; i < dim; i++ {
		for m := 0; m < dim; m++ {
			v := alpha*(x[m]/r)*d[i] - x[i]*d[m]/r + x[i]*s*x[m]/r3
			if i == m {
				v -= s / r
			}
			jac[i*dim+m] += v
		}
	}
}
