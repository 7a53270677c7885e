package covariance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mehdirezaie/flask/internal/diag"
)

func TestAssembleSymmetryCompletion(t *testing.T) {
	ps := NewPairSet(2, 3)
	ps.Cl[[2]int{0, 0}] = []float64{1, 1, 1}
	ps.Cl[[2]int{1, 1}] = []float64{2, 2, 2}
	ps.Cl[[2]int{0, 1}] = []float64{0.5, 0.5, 0.5} // (1,0) deliberately absent

	covs, err := Assemble(ps, false)
	require.NoError(t, err)
	for l := 0; l < 3; l++ {
		assert.Equal(t, covs[l].At(0, 1), covs[l].At(1, 0), "l=%d", l)
		assert.Equal(t, 0.5, covs[l].At(1, 0), "l=%d", l)
	}
}

func TestAssembleMissingPairFatal(t *testing.T) {
	// Two fields, only the diagonal spectra supplied: pair (0,1) and its
	// transpose (1,0) are both unset, which is fatal unless allowed.
	ps := NewPairSet(2, 2)
	ps.Cl[[2]int{0, 0}] = []float64{1, 1}
	ps.Cl[[2]int{1, 1}] = []float64{1, 1}

	_, err := Assemble(ps, false)
	require.ErrorIs(t, err, ErrMissingPair)
	assert.Contains(t, err.Error(), "[1, 0] was not set")

	covs, err := Assemble(ps, true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, covs[1].At(0, 1))
}

func TestValidateBadCorrelationFudge(t *testing.T) {
	// Off-diagonal producing |corr| = 1.2 with repair fraction 0.1: both
	// diagonals must grow by exactly 10% and the correlation be rechecked.
	covs := []*mat.SymDense{mat.NewSymDense(2, []float64{
		1.0, 1.2,
		1.2, 1.0,
	})}
	rep := diag.NewReporter(nil)

	out := Validate(covs, 0, 0, 0.1, 0, rep)
	assert.Equal(t, 1, out.BadCorr)
	assert.InDelta(t, 1.1, covs[0].At(0, 0), 1e-15)
	assert.InDelta(t, 1.1, covs[0].At(1, 1), 1e-15)
	// 1.2/1.1 > 1 still: the one-shot repair did not resolve it.
	assert.Equal(t, 1, out.UnresolvedCorr)
	assert.Equal(t, int64(1), rep.Warnings())
}

func TestValidateBadCorrelationResolved(t *testing.T) {
	covs := []*mat.SymDense{mat.NewSymDense(2, []float64{
		1.0, 1.05,
		1.05, 1.0,
	})}
	rep := diag.NewReporter(nil)

	out := Validate(covs, 0, 0, 0.1, 0, rep)
	assert.Equal(t, 1, out.BadCorr)
	assert.Equal(t, 0, out.UnresolvedCorr)
	assert.Zero(t, rep.Warnings())
}

func TestValidateDiagonalRepairs(t *testing.T) {
	covs := []*mat.SymDense{
		mat.NewSymDense(2, []float64{4.0, 0, 0, 0.0}),
		mat.NewSymDense(2, []float64{-1.0, 0, 0, 2.0}),
	}
	rep := diag.NewReporter(nil)

	out := Validate(covs, 0, 1, 0, 0.1, rep)
	assert.Equal(t, 1, out.NegativeDiag)
	assert.Equal(t, 1, out.ZeroDiag)
	// Zero diagonal replaced by 0.1 * min positive diagonal (= 2.0).
	assert.InDelta(t, 0.2, covs[0].At(1, 1), 1e-15)
}

func TestMaxFracDiff(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1.1, 0.5, 0.5, 2.0})
	b := mat.NewSymDense(2, []float64{1.0, 0.5, 0.5, 2.0})
	assert.InDelta(t, 0.1, MaxFracDiff(a, b), 1e-12)
	assert.Equal(t, 0.0, MaxFracDiff(b, b))
}

func TestFactorizeAllReproducesMatrix(t *testing.T) {
	covs := []*mat.SymDense{
		mat.NewSymDense(2, []float64{4, 1, 1, 3}),
		mat.NewSymDense(2, []float64{2, -0.5, -0.5, 1}),
	}
	rep := diag.NewReporter(nil)

	mixing, err := FactorizeAll(covs, 0, 1, rep)
	require.NoError(t, err)

	for l := range covs {
		L := mixing[l]
		require.NotNil(t, L)
		var prod mat.Dense
		prod.Mul(L, L.T())
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				assert.InDelta(t, covs[l].At(i, j), prod.At(i, j), 1e-12, "l=%d (%d,%d)", l, i, j)
			}
		}
	}
}

func TestFactorizeAllScalarSquareRoot(t *testing.T) {
	// One field with unit power: the mixing matrix is the scalar square root.
	covs := []*mat.SymDense{mat.NewSymDense(1, []float64{1.0})}
	mixing, err := FactorizeAll(covs, 0, 0, diag.NewReporter(nil))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mixing[0].At(0, 0), 1e-14)

	covs = []*mat.SymDense{mat.NewSymDense(1, []float64{9.0})}
	mixing, err = FactorizeAll(covs, 0, 0, diag.NewReporter(nil))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, mixing[0].At(0, 0), 1e-14)
}

func TestFactorizeAllCountsFailures(t *testing.T) {
	covs := []*mat.SymDense{
		mat.NewSymDense(2, []float64{1, 2, 2, 1}),  // indefinite
		mat.NewSymDense(2, []float64{1, 0, 0, -1}), // negative diagonal
	}
	rep := diag.NewReporter(nil)

	_, err := FactorizeAll(covs, 0, 1, rep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed 2 times")
	assert.Equal(t, int64(2), rep.Warnings(), "each failure is warned before the aggregate error")
}
