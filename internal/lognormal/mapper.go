// Package lognormal maps correlation functions between the lognormal-field
// domain and the associated Gaussian-field domain, and provides the moment
// helpers relating a lognormal field's mean/variance/skewness to the
// parameters of its underlying Gaussian.
package lognormal

import (
	"fmt"
	"math"
)

// BadSample is the sentinel written over correlation samples whose mapping to
// the Gaussian domain is undefined (log of a non-positive argument).
const BadSample = -666.0

// DomainError reports which samples of a correlation function could not be
// mapped to the Gaussian domain. The caller treats any occurrence within one
// field pair as fatal for the run.
type DomainError struct {
	Indices []int
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("lognormal: bad log argument at %d of the correlation samples (first at %d), set to %g",
		len(e.Indices), e.Indices[0], BadSample)
}

// ToGaussian transforms, sample by sample, a correlation function of
// lognormal variables into the correlation function of the associated
// Gaussian variables:
//
//	g = ln(1 + x / ((mean1+shift1)*(mean2+shift2)))
//
// Output may alias input. Samples with a non-positive log argument are set to
// BadSample and collected into a DomainError; the remaining samples are still
// transformed.
func ToGaussian(dst, src []float64, mean1, shift1, mean2, shift2 float64) error {
	if len(dst) != len(src) {
		return fmt.Errorf("lognormal: dst length %d != src length %d", len(dst), len(src))
	}
	denom := (mean1 + shift1) * (mean2 + shift2)
	var bad []int
	for k, x := range src {
		arg := 1.0 + x/denom
		if arg <= 0 {
			dst[k] = BadSample
			bad = append(bad, k)
			continue
		}
		dst[k] = math.Log(arg)
	}
	if bad != nil {
		return &DomainError{Indices: bad}
	}
	return nil
}

// ToLognormal is the inverse of ToGaussian:
//
//	x = (exp(g) - 1) * (mean1+shift1)*(mean2+shift2)
//
// It is defined for every input. Output may alias input.
func ToLognormal(dst, src []float64, mean1, shift1, mean2, shift2 float64) error {
	if len(dst) != len(src) {
		return fmt.Errorf("lognormal: dst length %d != src length %d", len(dst), len(src))
	}
	factor := (mean1 + shift1) * (mean2 + shift2)
	for k, g := range src {
		dst[k] = (math.Exp(g) - 1.0) * factor
	}
	return nil
}

// GaussianMu returns the mean of the Gaussian associated with a lognormal
// field of the given mean, variance and shift.
func GaussianMu(mean, variance, shift float64) float64 {
	m := mean + shift
	return math.Log(m) - 0.5*math.Log(1.0+variance/(m*m))
}

// GaussianSigma returns the standard deviation of the associated Gaussian.
func GaussianSigma(mean, variance, shift float64) float64 {
	m := mean + shift
	return math.Sqrt(math.Log(1.0 + variance/(m*m)))
}

// MomentsToShift estimates the lognormal shift from the measured mean,
// variance and skewness of a map, inverting the skewness relation of the
// shifted lognormal distribution.
func MomentsToShift(mean, variance, skewness float64) float64 {
	// With y = exp(sigma_g^2)-1: skew = (y+3)*sqrt(y) and
	// variance = (mean+shift)^2 * y.
	y := yFromSkewness(skewness)
	if y == 0 {
		return -mean
	}
	return math.Sqrt(variance/y) - mean
}

// yFromSkewness solves skew = (y+3)*sqrt(y) for y >= 0 by bisection.
func yFromSkewness(skew float64) float64 {
	if skew <= 0 {
		return 0
	}
	lo, hi := 0.0, 1.0
	f := func(y float64) float64 { return (y + 3) * math.Sqrt(y) }
	for f(hi) < skew {
		hi *= 2
	}
	for i := 0; i < 200; i++ {
		mid := 0.5 * (lo + hi)
		if f(mid) < skew {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}
