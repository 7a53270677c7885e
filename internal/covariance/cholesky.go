package covariance

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/mehdirezaie/flask/internal/diag"
)

// FactorizeAll computes the lower-triangular Cholesky factor of every
// covariance matrix in [lmin, lmax]. The returned slice is indexed by
// multipole; entries outside the range are nil. Each failure (matrix not
// positive definite) is warned and counted; a nonzero count after all
// multipoles have been attempted is fatal, reported with the total.
func FactorizeAll(covs []*mat.SymDense, lmin, lmax int, rep *diag.Reporter) ([]*mat.TriDense, error) {
	n := covs[lmin].SymmetricDim()
	mixing := make([]*mat.TriDense, len(covs))
	failures := 0
	for l := lmin; l <= lmax; l++ {
		var ch mat.Cholesky
		if !ch.Factorize(covs[l]) {
			failures++
			rep.Warn("Cholesky decomposition failed: covariance matrix is not positive-definite",
				zap.Int("l", l))
			continue
		}
		tri := mat.NewTriDense(n, mat.Lower, nil)
		ch.LTo(tri)
		mixing[l] = tri
	}
	if failures > 0 {
		return nil, fmt.Errorf("covariance: Cholesky decomposition failed %d times", failures)
	}
	return mixing, nil
}
