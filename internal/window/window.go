// Package window applies multiplicative corrections to angular power spectra:
// constant rescaling, Gaussian beam smoothing, pixel-window correction and
// exponential high-multipole suppression. All transforms operate in place on
// a pair's samples and are independent across field pairs.
package window

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

var ErrPixTable = errors.New("window: pixel window table needs at least two samples")

// PixelWindow evaluates the squared pixel window function w(l)^2 at arbitrary
// (non-integer) multipoles via a monotone spline fitted to a discrete table.
// Read-only after construction.
type PixelWindow struct {
	maxL float64
	fit  interp.FritschButland
}

// NewPixelWindow fits a monotone cubic spline to the tabulated window w(l).
// The table values are squared here, so Apply multiplies spectra by w(l)^2.
func NewPixelWindow(ls, w []float64) (*PixelWindow, error) {
	if len(ls) < 2 || len(ls) != len(w) {
		return nil, fmt.Errorf("%w: got %d multipoles, %d values", ErrPixTable, len(ls), len(w))
	}
	w2 := make([]float64, len(w))
	for k, v := range w {
		w2[k] = v * v
	}
	pw := &PixelWindow{maxL: ls[len(ls)-1]}
	if err := pw.fit.Fit(ls, w2); err != nil {
		return nil, fmt.Errorf("window: pixel window spline: %w", err)
	}
	return pw, nil
}

// MaxL returns the highest multipole covered by the fitted table.
func (pw *PixelWindow) MaxL() float64 { return pw.maxL }

// Apply multiplies each sample by w(l)^2. It reports whether any input
// multipole overshoots the table domain (the caller warns; values there are
// clamped to the table edge by the spline).
func (pw *PixelWindow) Apply(ls, cl []float64) (overshoot bool) {
	for k, l := range ls {
		if l > pw.maxL {
			overshoot = true
			l = pw.maxL
		}
		cl[k] *= pw.fit.Predict(l)
	}
	return overshoot
}

// Rescale multiplies every sample by a constant factor.
func Rescale(cl []float64, factor float64) {
	for k := range cl {
		cl[k] *= factor
	}
}

// GaussianBeam smooths the field by a Gaussian beam of the given width:
// each sample is multiplied by exp(-l(l+1) sigma^2), with sigma supplied as
// an angular scale in arcmin and converted to radians here.
func GaussianBeam(ls, cl []float64, sigmaArcmin float64) {
	sigma := sigmaArcmin / 60.0 * math.Pi / 180.0
	variance := sigma * sigma
	for k, l := range ls {
		cl[k] *= math.Exp(-l * (l + 1) * variance)
	}
}

// SuppressFactor is the smooth high-l cutoff exp(-(l/lsup)^index).
func SuppressFactor(l, lsup, index float64) float64 {
	return math.Exp(-math.Pow(l/lsup, index))
}

// Suppress applies the exponential high-l suppression in place.
func Suppress(ls, cl []float64, lsup, index float64) {
	for k, l := range ls {
		cl[k] *= SuppressFactor(l, lsup, index)
	}
}

// Processor bundles the optional window transforms with their fixed
// application order: rescale, beam, pixel window, suppression.
type Processor struct {
	ScaleFactor     float64      // applied when != 1
	BeamSigmaArcmin float64      // applied when > 0
	Pixel           *PixelWindow // applied when non-nil
	SuppressL       float64      // suppression applied when both >= 0
	SupIndex        float64
}

// Active reports whether any transform is configured.
func (p *Processor) Active() bool {
	return p.ScaleFactor != 1 || p.BeamSigmaArcmin > 0 || p.Pixel != nil ||
		(p.SuppressL >= 0 && p.SupIndex >= 0)
}

// Apply runs the configured transforms in order, in place. It reports whether
// the pixel window table was overshot by any multipole.
func (p *Processor) Apply(ls, cl []float64) (pixOvershoot bool) {
	if p.ScaleFactor != 1 {
		Rescale(cl, p.ScaleFactor)
	}
	if p.BeamSigmaArcmin > 0 {
		GaussianBeam(ls, cl, p.BeamSigmaArcmin)
	}
	if p.Pixel != nil {
		pixOvershoot = p.Pixel.Apply(ls, cl)
	}
	if p.SuppressL >= 0 && p.SupIndex >= 0 {
		Suppress(ls, cl, p.SuppressL, p.SupIndex)
	}
	return pixOvershoot
}
