// Package transform implements the Discrete Legendre Transform pair used to
// move between multipole-space spectra C(l) and angle-space correlation
// functions Xi(theta) on the sphere.
//
// For bandwidth N (= last multipole + 1) the correlation function is sampled
// at the 2N Gauss-Legendre nodes x_j = cos(theta_j) on (-1, 1). With 2N nodes
// the quadrature is exact for polynomials of degree <= 4N-1, which covers
// every product P_l*P_l' with l, l' < N, so Forward followed by Inverse
// reproduces a band-limited spectrum to machine precision.
package transform

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

var (
	ErrBandwidth = errors.New("transform: bandwidth must be at least 1")
	ErrLength    = errors.New("transform: slice length does not match bandwidth")
)

// Engine holds the precomputed node, weight and Legendre-polynomial tables for
// one bandwidth. Construct once per run; safe for concurrent use afterwards
// since all state is read-only.
type Engine struct {
	bw     int
	nodes  []float64   // 2*bw Gauss-Legendre nodes on (-1, 1)
	wts    []float64   // matching quadrature weights
	thetas []float64   // acos(nodes), radians
	pl     [][]float64 // pl[l][j] = P_l(nodes[j]), l < bw
}

// NewEngine precomputes the transform tables for the given bandwidth.
// Table memory is O(bw^2).
func NewEngine(bw int) (*Engine, error) {
	if bw < 1 {
		return nil, ErrBandwidth
	}
	n := 2 * bw
	e := &Engine{
		bw:     bw,
		nodes:  make([]float64, n),
		wts:    make([]float64, n),
		thetas: make([]float64, n),
	}
	quad.Legendre{}.FixedLocations(e.nodes, e.wts, -1, 1)
	for j, x := range e.nodes {
		e.thetas[j] = math.Acos(x)
	}

	// Legendre polynomials by the three-term recurrence, one row per degree.
	e.pl = make([][]float64, bw)
	flat := make([]float64, bw*n)
	for l := range e.pl {
		e.pl[l] = flat[l*n : (l+1)*n]
	}
	for j, x := range e.nodes {
		e.pl[0][j] = 1
		if bw > 1 {
			e.pl[1][j] = x
		}
		for l := 2; l < bw; l++ {
			fl := float64(l)
			e.pl[l][j] = ((2*fl-1)*x*e.pl[l-1][j] - (fl-1)*e.pl[l-2][j]) / fl
		}
	}
	return e, nil
}

// Bandwidth returns N, one plus the highest multipole handled.
func (e *Engine) Bandwidth() int { return e.bw }

// NAngles returns the number of angular sampling nodes (2N).
func (e *Engine) NAngles() int { return 2 * e.bw }

// Angles copies out the angular nodes theta_j in radians.
func (e *Engine) Angles() []float64 {
	out := make([]float64, len(e.thetas))
	copy(out, e.thetas)
	return out
}

// Forward evaluates the correlation function at the angular nodes:
//
//	xi[j] = sum_l (2l+1)/(4 pi) * cl[l] * P_l(x_j)
//
// cl must have length N and xi length 2N; they must not overlap.
func (e *Engine) Forward(cl, xi []float64) error {
	if len(cl) != e.bw || len(xi) != 2*e.bw {
		return fmt.Errorf("%w: got cl=%d xi=%d for bw=%d", ErrLength, len(cl), len(xi), e.bw)
	}
	for j := range xi {
		var acc float64
		for l := 0; l < e.bw; l++ {
			acc += (2*float64(l) + 1) / (4 * math.Pi) * cl[l] * e.pl[l][j]
		}
		xi[j] = acc
	}
	return nil
}

// Inverse reconstructs multipole values from correlation samples at the
// angular nodes by Gauss-Legendre quadrature:
//
//	cl[l] = 2 pi * sum_j w_j * xi[j] * P_l(x_j)
//
// xi must have length 2N and cl length N; they must not overlap.
func (e *Engine) Inverse(xi, cl []float64) error {
	if len(cl) != e.bw || len(xi) != 2*e.bw {
		return fmt.Errorf("%w: got cl=%d xi=%d for bw=%d", ErrLength, len(cl), len(xi), e.bw)
	}
	for l := 0; l < e.bw; l++ {
		var acc float64
		for j, v := range xi {
			acc += e.wts[j] * v * e.pl[l][j]
		}
		cl[l] = 2 * math.Pi * acc
	}
	return nil
}
