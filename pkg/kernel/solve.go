package kernel

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
)

// InversionMethod selects how the kernel system is solved
type InversionMethod string

const (
	// SVD solves with a rank-truncated pseudo-inverse and never fails on
	// rank-deficient systems
	SVD InversionMethod = "SVD"

	// QR solves with a QR factorisation; singular systems are reported
	// as errdefs.ErrSingularSystem
	QR InversionMethod = "QR"
)

// singularValueCutoff is the relative threshold below which singular values
// are treated as zero by the SVD solve
const singularValueCutoff = 1e-12

// ParseInversionMethod validates a TPSMatrixInversionMethod value
func ParseInversionMethod(s string) (InversionMethod, error) {
	switch InversionMethod(s) {
	case SVD, QR:
		return InversionMethod(s), nil
	case "":
		return SVD, nil
	}
	return "", fmt.Errorf("%w: unknown matrix inversion method %q (want SVD or QR)", errdefs.ErrConfiguration, s)
}

// systemSize returns the order of the kernel system for n landmarks
func systemSize(n, dim int) int {
	return n*dim + dim*(dim+1)
}

// buildSystem assembles
//
//	L = | K ± stiffness*I   P |      Y = | target - source |
//	    | P^T               0 |          | 0               |
//
// where K holds the kernel evaluated between every pair of source landmarks
// and P enforces that the affine part is reproduced exactly.
//
// The stiffness is added along the diagonal of K with the sign of the
// family (funcs.relax), chosen so that the relaxed system stays away from
// singularity for every stiffness. A zero stiffness gives the interpolating
// spline, which carries every source landmark onto its target; as the
// stiffness grows, the non-affine coefficients shrink towards zero and the
// transform approaches the least-squares affine fit of the landmarks.
func buildSystem(source, target []models.Point, funcs kernelFuncs, alpha, stiffness float64) (*mat.Dense, *mat.VecDense) {
	n := len(source)
	dim := len(source[0])
	size := systemSize(n, dim)
	affine := n * dim

	L := mat.NewDense(size, size, nil)
	Y := mat.NewVecDense(size, nil)

	g := make([]float64, dim*dim)
	x := make([]float64, dim)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				for k := 0; k < dim; k++ {
					L.Set(i*dim+k, i*dim+k, funcs.relax*stiffness)
				}
				continue
			}
			for k := 0; k < dim; k++ {
				x[k] = source[i][k] - source[j][k]
			}
			funcs.g(x, alpha, g)
			for r := 0; r < dim; r++ {
				for c := 0; c < dim; c++ {
					L.Set(i*dim+r, j*dim+c, g[r*dim+c])
				}
			}
		}

		// affine block: one identity block scaled by each coordinate, then
		// one identity block for the translation
		for j := 0; j < dim; j++ {
			for k := 0; k < dim; k++ {
				L.Set(i*dim+k, affine+j*dim+k, source[i][j])
				L.Set(affine+j*dim+k, i*dim+k, source[i][j])
			}
		}
		for k := 0; k < dim; k++ {
			L.Set(i*dim+k, affine+dim*dim+k, 1)
			L.Set(affine+dim*dim+k, i*dim+k, 1)
		}

		for k := 0; k < dim; k++ {
			Y.SetVec(i*dim+k, target[i][k]-source[i][k])
		}
	}

	return L, Y
}

// solveSystem solves L w = Y with the requested method
func solveSystem(L *mat.Dense, Y *mat.VecDense, method InversionMethod) ([]float64, error) {
	n, _ := L.Dims()
	w := mat.NewVecDense(n, nil)

	switch method {
	case QR:
		var qr mat.QR
		qr.Factorize(L)
		if err := qr.SolveVecTo(w, false, Y); err != nil {
			var cond mat.Condition
			if errors.As(err, &cond) {
				return nil, fmt.Errorf("%w: QR inversion failed (condition number %g); duplicate or insufficient landmarks",
					errdefs.ErrSingularSystem, float64(cond))
			}
			return nil, fmt.Errorf("%w: %v", errdefs.ErrSingularSystem, err)
		}

	case SVD:
		var svd mat.SVD
		if ok := svd.Factorize(L, mat.SVDThin); !ok {
			return nil, fmt.Errorf("%w: SVD factorisation did not converge", errdefs.ErrSingularSystem)
		}
		rank := svd.Rank(singularValueCutoff)
		if rank == 0 {
			// all-zero system: the zero solution is the pseudo-inverse answer
			return make([]float64, n), nil
		}
		svd.SolveVecTo(w, Y, rank)

	default:
		return nil, fmt.Errorf("%w: unknown matrix inversion method %q", errdefs.ErrConfiguration, method)
	}

	return append([]float64(nil), w.RawVector().Data...), nil
}
