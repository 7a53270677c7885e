package window

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRescale(t *testing.T) {
	cl := []float64{1, 2, 3}
	Rescale(cl, 2.5)
	assert.Equal(t, []float64{2.5, 5, 7.5}, cl)
}

func TestGaussianBeamUnits(t *testing.T) {
	// 60 arcmin = 1 degree = pi/180 rad.
	ls := []float64{0, 10}
	cl := []float64{1, 1}
	GaussianBeam(ls, cl, 60)

	sigma := math.Pi / 180
	assert.InDelta(t, 1.0, cl[0], 1e-15, "l=0 is untouched")
	assert.InDelta(t, math.Exp(-10*11*sigma*sigma), cl[1], 1e-15)
}

func TestSuppress(t *testing.T) {
	ls := []float64{100, 200}
	cl := []float64{1, 1}
	Suppress(ls, cl, 200, 2)
	assert.InDelta(t, math.Exp(-0.25), cl[0], 1e-15)
	assert.InDelta(t, math.Exp(-1), cl[1], 1e-15)
}

func TestPixelWindowSplineAndOvershoot(t *testing.T) {
	// Table of w(l) = 1/(1+l/100): spline of w^2 must reproduce the table
	// nodes exactly and interpolate monotonically between them.
	var tls, tw []float64
	for l := 0.0; l <= 100; l += 10 {
		tls = append(tls, l)
		tw = append(tw, 1/(1+l/100))
	}
	pw, err := NewPixelWindow(tls, tw)
	require.NoError(t, err)
	assert.Equal(t, 100.0, pw.MaxL())

	ls := []float64{0, 10, 45, 100}
	cl := []float64{1, 1, 1, 1}
	overshoot := pw.Apply(ls, cl)
	assert.False(t, overshoot)

	w := func(l float64) float64 { v := 1 / (1 + l/100); return v * v }
	assert.InDelta(t, w(0), cl[0], 1e-12)
	assert.InDelta(t, w(10), cl[1], 1e-12)
	assert.InDelta(t, w(100), cl[3], 1e-12)
	// Interior point: monotone interpolation stays between neighbors.
	assert.Less(t, cl[2], w(40))
	assert.Greater(t, cl[2], w(50))

	// Multipole beyond the table flags the overshoot.
	cl2 := []float64{1}
	assert.True(t, pw.Apply([]float64{150}, cl2))
}

func TestNewPixelWindowRejectsShortTable(t *testing.T) {
	_, err := NewPixelWindow([]float64{1}, []float64{1})
	assert.ErrorIs(t, err, ErrPixTable)
}

func TestProcessorOrderIsFixed(t *testing.T) {
	// Rescale happens before suppression: with a factor of 2 and a cutoff,
	// the result is 2*exp(-1), not exp(-1)*2 applied to different stages.
	// Use a value-dependent check: rescale then beam on l where both act.
	ls := []float64{50}
	cl := []float64{3}
	p := &Processor{ScaleFactor: 2, BeamSigmaArcmin: 30, SuppressL: 100, SupIndex: 1}
	require.True(t, p.Active())
	p.Apply(ls, cl)

	sigma := 30.0 / 60.0 * math.Pi / 180.0
	want := 3.0 * 2 * math.Exp(-50*51*sigma*sigma) * math.Exp(-0.5)
	assert.InDelta(t, want, cl[0], 1e-15)
}

func TestProcessorInactive(t *testing.T) {
	p := &Processor{ScaleFactor: 1, BeamSigmaArcmin: -1, SuppressL: -1, SupIndex: -1}
	assert.False(t, p.Active())
	cl := []float64{1.5}
	p.Apply([]float64{10}, cl)
	assert.Equal(t, 1.5, cl[0])
}
