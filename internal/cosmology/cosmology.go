// Package cosmology computes the comoving distances and the lensing kernel
// used to turn density-contrast slices into convergence weights.
package cosmology

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/interp"

	"github.com/mehdirezaie/flask/domain/field"
)

const (
	// SpeedOfLight in km/s.
	SpeedOfLight = 299792.458
	// H100 is the Hubble constant in km/s/Mpc for h=1; distances come out in
	// Mpc/h.
	H100 = 100.0

	tableMaxZ  = 8.0
	tableSize  = 500
	quadPoints = 40
)

var (
	ErrBadParams = errors.New("cosmology: OmegaM and OmegaL must be set")
	ErrZRange    = errors.New("cosmology: redshift outside the tabulated range")
)

// Params holds the background cosmology. OmegaK is derived, not set.
type Params struct {
	OmegaM float64
	OmegaL float64
	W      float64 // dark-energy equation of state, -1 for a cosmological constant
}

func (p Params) omegaK() float64 { return 1 - p.OmegaM - p.OmegaL }

// E is the dimensionless Hubble rate H(z)/H0, ignoring radiation.
func (p Params) E(z float64) float64 {
	a := 1 + z
	return math.Sqrt(p.OmegaM*a*a*a + p.omegaK()*a*a + p.OmegaL*math.Pow(a, 3*(1+p.W)))
}

// DistanceTable tabulates the radial comoving distance chi(z) on a fixed grid
// over [0, 8] and answers lookups by monotone spline interpolation. Built
// once, read-only afterwards.
type DistanceTable struct {
	params Params
	spline interp.FritschButland
	hubble float64 // c/H100 in Mpc/h
}

// NewDistanceTable integrates 1/E(z) with fixed Gauss-Legendre quadrature at
// every grid node.
func NewDistanceTable(p Params) (*DistanceTable, error) {
	if p.OmegaM <= 0 || p.OmegaL < 0 {
		return nil, ErrBadParams
	}
	t := &DistanceTable{params: p, hubble: SpeedOfLight / H100}
	zs := make([]float64, tableSize+1)
	chis := make([]float64, tableSize+1)
	integrand := func(z float64) float64 { return 1 / p.E(z) }
	for i := 1; i <= tableSize; i++ {
		zs[i] = float64(i) * tableMaxZ / tableSize
		chis[i] = t.hubble * quad.Fixed(integrand, 0, zs[i], quadPoints, nil, 0)
	}
	if err := t.spline.Fit(zs, chis); err != nil {
		return nil, fmt.Errorf("cosmology: distance table fit: %w", err)
	}
	return t, nil
}

// ComovingDistance returns chi(z) in Mpc/h.
func (t *DistanceTable) ComovingDistance(z float64) (float64, error) {
	if z < 0 || z > tableMaxZ {
		return 0, fmt.Errorf("%w: z=%g", ErrZRange, z)
	}
	return t.spline.Predict(z), nil
}

// DChiDz is the derivative of the comoving distance with respect to redshift.
func (t *DistanceTable) DChiDz(z float64) float64 {
	return t.hubble / t.params.E(z)
}

// transverseDistance maps a radial comoving distance to the transverse one,
// accounting for spatial curvature.
func (t *DistanceTable) transverseDistance(chi float64) float64 {
	ok := t.params.omegaK()
	if ok == 0 {
		return chi
	}
	curvScale := t.hubble / math.Sqrt(math.Abs(ok))
	if ok > 0 {
		return curvScale * math.Sinh(chi/curvScale)
	}
	return curvScale * math.Sin(chi/curvScale)
}

// KappaWeight is the convergence kernel at lens redshift z for sources at
// zSource, per unit redshift. Zero when the lens sits at or behind the source.
func (t *DistanceTable) KappaWeight(z, zSource float64) (float64, error) {
	if z >= zSource {
		return 0, nil
	}
	chiLens, err := t.ComovingDistance(z)
	if err != nil {
		return 0, err
	}
	chiSource, err := t.ComovingDistance(zSource)
	if err != nil {
		return 0, err
	}
	pre := 1.5 * t.params.OmegaM / (t.hubble * t.hubble)
	return pre * (1 + z) *
		t.transverseDistance(chiLens) * t.transverseDistance(chiSource-chiLens) /
		t.transverseDistance(chiSource) * t.DChiDz(z), nil
}

// WeightTable builds the density-to-convergence weight matrix over the field
// registry: entry (i, j) is the kernel for sources at field i's upper edge,
// evaluated at the midpoint of field j's slice and scaled by the slice width.
// Rows for non-lensing fields are zero.
func (t *DistanceTable) WeightTable(reg *field.Registry) ([][]float64, error) {
	n := reg.NFields()
	table := make([][]float64, n)
	for i := 0; i < n; i++ {
		table[i] = make([]float64, n)
		if reg.At(i).Kind != field.TypeLensing {
			continue
		}
		zSource := reg.At(i).ZMax
		for j := 0; j < n; j++ {
			lens := reg.At(j)
			mid := (lens.ZMin + lens.ZMax) / 2
			w, err := t.KappaWeight(mid, zSource)
			if err != nil {
				return nil, err
			}
			table[i][j] = w * (lens.ZMax - lens.ZMin)
		}
	}
	return table, nil
}
