// Package covariance builds, validates and factorizes the per-multipole
// covariance matrices over all fields.
package covariance

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/mehdirezaie/flask/internal/diag"
)

// largestVariance seeds the search for the minimum positive diagonal.
const largestVariance = 1e12

var ErrMissingPair = errors.New("covariance: spectrum missing for pair and its transpose")

// PairSet holds the dense auxiliary Gaussian spectra, one slice of length
// bandwidth per explicitly set ordered pair.
type PairSet struct {
	NFields int
	Bw      int
	Cl      map[[2]int][]float64
}

// NewPairSet allocates an empty pair set.
func NewPairSet(nfields, bw int) *PairSet {
	return &PairSet{NFields: nfields, Bw: bw, Cl: make(map[[2]int][]float64)}
}

// Assemble turns the pair spectra into one dense symmetric matrix per
// multipole, Cov(l)[i][j] = Cl_ij[l]. Unset entries are completed from the
// transpose; when both directions are missing the pair is zeroed only under
// allowMissing, otherwise assembly fails naming the unset transpose.
func Assemble(ps *PairSet, allowMissing bool) ([]*mat.SymDense, error) {
	n := ps.NFields
	covs := make([]*mat.SymDense, ps.Bw)
	for l := range covs {
		covs[l] = mat.NewSymDense(n, nil)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cl, ok := ps.Cl[[2]int{i, j}]
			if !ok {
				if cl, ok = ps.Cl[[2]int{j, i}]; !ok {
					if !allowMissing {
						return nil, fmt.Errorf("%w: [%d, %d] could not be set because [%d, %d] was not set",
							ErrMissingPair, i, j, j, i)
					}
					continue // both directions zero
				}
			}
			for l := 0; l < ps.Bw; l++ {
				covs[l].SetSym(i, j, cl[l])
			}
		}
	}
	return covs, nil
}

// ValidateReport summarizes the issues found (and repaired) by Validate.
type ValidateReport struct {
	NegativeDiag   int // diagonal entries < 0 (warned, left alone)
	ZeroDiag       int // diagonal entries == 0 (replaced or warned)
	BadCorr        int // |correlation| > 1 occurrences repaired by inflation
	UnresolvedCorr int // still out of range after the one-shot repair
}

// Validate checks every matrix in the active multipole range [lmin, lmax]:
// diagonals must be non-negative; zero diagonals are replaced by
// minDiagFrac times the minimum positive diagonal seen across the range (when
// minDiagFrac > 0), otherwise warned; implied correlations outside [-1, 1]
// trigger a one-shot inflation of both diagonals by (1+badCorrFrac) followed
// by a recheck. Violations warn and count but never stop the run.
func Validate(covs []*mat.SymDense, lmin, lmax int, badCorrFrac, minDiagFrac float64, rep *diag.Reporter) ValidateReport {
	var out ValidateReport
	n := covs[lmin].SymmetricDim()

	minDiag := largestVariance
	if minDiagFrac > 0 {
		for l := lmin; l <= lmax; l++ {
			for i := 0; i < n; i++ {
				if v := covs[l].At(i, i); v > 0 && v < minDiag {
					minDiag = v
				}
			}
		}
	}

	for l := lmin; l <= lmax; l++ {
		m := covs[l]
		for i := 0; i < n; i++ {
			if m.At(i, i) < 0 {
				out.NegativeDiag++
				rep.Warn("covariance matrix diagonal is negative",
					zap.Int("l", l), zap.Int("field", i), zap.Float64("value", m.At(i, i)))
			}
			if m.At(i, i) == 0 {
				out.ZeroDiag++
				if minDiagFrac > 0 {
					m.SetSym(i, i, minDiagFrac*minDiag)
				} else {
					rep.Warn("covariance matrix diagonal is zero",
						zap.Int("l", l), zap.Int("field", i))
				}
			}
			for j := i + 1; j < n; j++ {
				corr := m.At(i, j) / math.Sqrt(m.At(i, i)*m.At(j, j))
				if corr > 1 || corr < -1 {
					out.BadCorr++
					rep.Info("correlation out of range, inflating variances",
						zap.Int("l", l), zap.Int("i", i), zap.Int("j", j), zap.Float64("corr", corr))
					m.SetSym(i, i, m.At(i, i)*(1+badCorrFrac))
					m.SetSym(j, j, m.At(j, j)*(1+badCorrFrac))
					corr = m.At(i, j) / math.Sqrt(m.At(i, i)*m.At(j, j))
					if corr > 1 || corr < -1 {
						out.UnresolvedCorr++
						rep.Warn("variance inflation could not bring correlation into range",
							zap.Int("l", l), zap.Int("i", i), zap.Int("j", j), zap.Float64("corr", corr))
					}
				}
			}
		}
	}
	return out
}

// MaxFracDiff returns the maximum fractional elementwise change between two
// matrices, max |a-b|/|b| over entries where b != 0. Used to quantify how
// much regularization altered a covariance matrix.
func MaxFracDiff(a, b mat.Symmetric) float64 {
	n := b.SymmetricDim()
	var max float64
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			bv := b.At(i, j)
			if bv == 0 {
				continue
			}
			if d := math.Abs((a.At(i, j) - bv) / bv); d > max {
				max = d
			}
		}
	}
	return max
}
