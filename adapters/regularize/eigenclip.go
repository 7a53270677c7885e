// Package regularize provides the default covariance regularizer: iterative
// eigenvalue clipping. Eigenvalues below a small floor (a configurable
// fraction of the largest eigenvalue) are raised to the floor and the matrix
// is rebuilt, repeating until the spectrum is clean or the step budget runs
// out.
package regularize

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/mehdirezaie/flask/ports"
)

var ErrEigen = errors.New("regularize: eigendecomposition failed")

const (
	DefaultMaxSteps   = 30
	DefaultMinEigFrac = 1e-12
)

// EigenClip implements ports.Regularizer. Zero value is not ready; use New.
type EigenClip struct {
	maxSteps   int
	minEigFrac float64 // eigenvalue floor as a fraction of the largest eigenvalue
}

func New(maxSteps int, minEigFrac float64) *EigenClip {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if minEigFrac <= 0 {
		minEigFrac = DefaultMinEigFrac
	}
	return &EigenClip{maxSteps: maxSteps, minEigFrac: minEigFrac}
}

// Regularize repairs m in place. A matrix whose smallest eigenvalue is
// already non-negative (up to roundoff relative to the largest) is left
// untouched.
func (r *EigenClip) Regularize(m *mat.SymDense) (ports.RegStatus, error) {
	n := m.SymmetricDim()
	changed := false

	for step := 0; step < r.maxSteps; step++ {
		var es mat.EigenSym
		if !es.Factorize(m, true) {
			return ports.RegMaxIterations, ErrEigen
		}
		vals := es.Values(nil)
		min, max := vals[0], vals[0]
		for _, v := range vals[1:] {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		if max <= 0 {
			// Zero (or fully non-positive) matrix: nothing sensible to
			// rescale against; treat the all-zero case as already valid.
			if min >= 0 {
				return ports.RegUnchanged, nil
			}
			return ports.RegMaxIterations, nil
		}
		floor := r.minEigFrac * max
		if min >= -floor {
			if changed {
				return ports.RegRepaired, nil
			}
			return ports.RegUnchanged, nil
		}

		for k, v := range vals {
			if v < floor {
				vals[k] = floor
			}
		}
		var vecs mat.Dense
		es.VectorsTo(&vecs)
		var tmp, res mat.Dense
		tmp.Mul(&vecs, mat.NewDiagDense(n, vals))
		res.Mul(&tmp, vecs.T())
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				m.SetSym(i, j, 0.5*(res.At(i, j)+res.At(j, i)))
			}
		}
		changed = true
	}
	return ports.RegMaxIterations, nil
}
