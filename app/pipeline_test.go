package app

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdirezaie/flask/adapters/regularize"
	"github.com/mehdirezaie/flask/config"
	"github.com/mehdirezaie/flask/domain/field"
	"github.com/mehdirezaie/flask/internal/diag"
	"github.com/mehdirezaie/flask/internal/sampling"
)

// writeInputs lays out a two-field run: a fields-info table and flat input
// spectra for all three pairs, sampled on every integer multipole up to 48.
func writeInputs(t *testing.T) config.RunConfig {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.LRange = [2]int{2, 40}
	cfg.Workers = 2
	cfg.RndSeed = 1234
	cfg.FieldsInfo = filepath.Join(dir, "fields-info.dat")
	cfg.ClPrefix = filepath.Join(dir, "Cl-")

	require.NoError(t, os.WriteFile(cfg.FieldsInfo, []byte(
		"# f z mean shift type zmin zmax\n"+
			"1 1 0.0 1.0 1 0.2 0.4\n"+
			"1 2 0.0 1.0 1 0.4 0.6\n"), 0o644))

	writeCl := func(name string, amp float64) {
		var buf []byte
		for l := 1; l <= 48; l++ {
			buf = append(buf, fmt.Sprintf("%d %.10e\n", l, amp)...)
		}
		require.NoError(t, os.WriteFile(cfg.ClPrefix+name+".dat", buf, 0o644))
	}
	writeCl("f1z1f1z1", 1e-3)
	writeCl("f1z1f1z2", 4e-4)
	writeCl("f1z2f1z2", 1e-3)
	return cfg
}

func run(t *testing.T, cfg config.RunConfig) (*Result, error) {
	t.Helper()
	require.NoError(t, cfg.Validate())
	p := New(cfg, diag.NewReporter(nil), regularize.New(0, 0), nil)
	return p.Run(context.Background())
}

func TestRunLognormalEndToEnd(t *testing.T) {
	cfg := writeInputs(t)
	res, err := run(t, cfg)
	require.NoError(t, err)

	require.Len(t, res.Alms, 2)
	require.Len(t, res.Alms[0], sampling.JMax(40)+1)
	assert.Empty(t, res.ExitedAt)

	// Coefficients below lmin stay empty, the rest are populated.
	assert.Zero(t, res.Alms[0][sampling.PackedIndex(1, 0)])
	assert.NotZero(t, res.Alms[0][sampling.PackedIndex(2, 0)])
	assert.Zero(t, imag(res.Alms[1][sampling.PackedIndex(5, 0)]), "m=0 is purely real")
}

func TestRunReproducible(t *testing.T) {
	cfg := writeInputs(t)
	a, err := run(t, cfg)
	require.NoError(t, err)
	b, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Alms, b.Alms)

	cfg.RndSeed = 999
	c, err := run(t, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a.Alms, c.Alms)
}

func TestRunGaussianLinearScaling(t *testing.T) {
	// Scaling the input spectra by s scales the Gaussian-mode coefficients
	// by sqrt(s) for a fixed seed, since sampling is linear in the Cholesky
	// factor.
	cfg := writeInputs(t)
	cfg.Dist = config.DistGaussian

	base, err := run(t, cfg)
	require.NoError(t, err)

	cfg.ScaleCls = 4
	scaled, err := run(t, cfg)
	require.NoError(t, err)

	jmin, jmax := sampling.JMin(2), sampling.JMax(40)
	for j := jmin; j <= jmax; j += 7 {
		want := 2 * base.Alms[0][j]
		got := scaled.Alms[0][j]
		assert.InDelta(t, real(want), real(got), 1e-9, "j=%d", j)
		assert.InDelta(t, imag(want), imag(got), 1e-9, "j=%d", j)
	}
}

func TestRunGaussianUnitSpectrum(t *testing.T) {
	// One field, Gaussian mode, unit input spectrum and no windows: the
	// covariance "matrix" per multipole is exactly the input value and the
	// dumped Cholesky factor its scalar square root.
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Dist = config.DistGaussian
	cfg.LRange = [2]int{2, 10}
	cfg.Workers = 1
	cfg.FieldsInfo = filepath.Join(dir, "fields-info.dat")
	cfg.ClPrefix = filepath.Join(dir, "Cl-")
	cfg.CovPrefix = filepath.Join(dir, "cov-")
	cfg.CholOutPrefix = filepath.Join(dir, "chol-")
	cfg.ExitAt = "Cholesky"

	require.NoError(t, os.WriteFile(cfg.FieldsInfo,
		[]byte("1 1 0.0 1.0 1 0.0 1.0\n"), 0o644))
	var buf []byte
	for l := 1; l <= 10; l++ {
		buf = append(buf, fmt.Sprintf("%d 1.0\n", l)...)
	}
	require.NoError(t, os.WriteFile(cfg.ClPrefix+"f1z1f1z1.dat", buf, 0o644))

	res, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, "Cholesky", res.ExitedAt)

	for l := 2; l <= 10; l++ {
		cov, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("cov-l%03d.dat", l)))
		require.NoError(t, err)
		assert.Equal(t, "1.0000000000e+00\n", string(cov), "l=%d", l)
		chol, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("chol-l%03d.dat", l)))
		require.NoError(t, err)
		assert.Equal(t, "1.0000000000e+00\n", string(chol), "l=%d", l)
	}
}

func TestRunExitAtCheckpoint(t *testing.T) {
	cfg := writeInputs(t)
	dir := t.TempDir()
	cfg.CovPrefix = filepath.Join(dir, "cov-")
	cfg.ExitAt = "Cov"

	res, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, "Cov", res.ExitedAt)
	assert.Nil(t, res.Alms)

	// The checkpoint's own diagnostic is written before stopping.
	_, err = os.Stat(filepath.Join(dir, "cov-l002.dat"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "cov-l040.dat"))
	assert.NoError(t, err)
}

func TestRunHomogeneous(t *testing.T) {
	cfg := writeInputs(t)
	cfg.Dist = config.DistHomogeneous
	cfg.ClPrefix = "" // no spectra needed

	res, err := run(t, cfg)
	require.NoError(t, err)
	require.Len(t, res.Alms, 2)
	for _, c := range res.Alms[0] {
		require.Zero(t, c)
	}
}

func TestRunGaussianDegradedCheckpointStillDumps(t *testing.T) {
	// Xi/GaussXi are lognormal-only: a Gaussian run degrades them to the
	// GaussCl checkpoint but must still write the GaussCl diagnostic first.
	cfg := writeInputs(t)
	cfg.Dist = config.DistGaussian
	cfg.GaussClPrefix = filepath.Join(t.TempDir(), "gcl-")
	cfg.ExitAt = "Xi"

	res, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, "GaussCl", res.ExitedAt)
	_, err = os.Stat(cfg.GaussClPrefix + "f1z1f1z2.dat")
	assert.NoError(t, err)
}

func TestRunWritesKappaWeights(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.LRange = [2]int{2, 10}
	cfg.FieldsInfo = filepath.Join(dir, "fields-info.dat")
	cfg.ClPrefix = filepath.Join(dir, "Cl-") // unused: the run stops at FieldList
	cfg.KappaOut = filepath.Join(dir, "kappa.dat")
	cfg.OmegaM, cfg.OmegaL, cfg.WDE = 0.3, 0.7, -1
	cfg.ExitAt = "FieldList"

	require.NoError(t, os.WriteFile(cfg.FieldsInfo, []byte(
		"1 1 0.0 1.0 1 0.2 0.4\n"+ // foreground density slice
			"2 1 0.0 0.01 2 0.8 1.0\n"), 0o644)) // lensing sources behind it

	res, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, "FieldList", res.ExitedAt)

	raw, err := os.ReadFile(cfg.KappaOut)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3, "header plus one row per field")
	assert.Equal(t, "# source f1z1 f2z1", lines[0])

	parseRow := func(line, label string) []float64 {
		cols := strings.Fields(line)
		require.Len(t, cols, 3)
		require.Equal(t, label, cols[0])
		out := make([]float64, 2)
		for k := 0; k < 2; k++ {
			v, err := strconv.ParseFloat(cols[k+1], 64)
			require.NoError(t, err)
			out[k] = v
		}
		return out
	}
	density := parseRow(lines[1], "f1z1")
	lensing := parseRow(lines[2], "f2z1")
	assert.Equal(t, []float64{0, 0}, density, "density fields carry no kernel")
	assert.Greater(t, lensing[0], 0.0, "foreground slice lenses the sources")
}

func TestTotalVariance(t *testing.T) {
	cl := make([]float64, 11)
	for l := range cl {
		cl[l] = 1
	}
	// sum of (2l+1) over l=0..10 is 121.
	assert.InDelta(t, 121/(4*math.Pi), totalVariance(cl), 1e-12)
}

func TestRunRejectsBadLognormalField(t *testing.T) {
	cfg := writeInputs(t)
	table := "# f z mean shift type zmin zmax\n1 1 -2.0 1.0 1 0.2 0.4\n"
	require.NoError(t, os.WriteFile(cfg.FieldsInfo, []byte(table), 0o644))

	_, err := run(t, cfg)
	assert.ErrorIs(t, err, field.ErrBadShift)
}

// fakeSynth records what the pipeline hands to the synthesis port.
type fakeSynth struct {
	calls []int
	lmax  int
}

func (s *fakeSynth) Synthesize(_ context.Context, fieldIndex, lmax int, alm []complex128) error {
	s.calls = append(s.calls, fieldIndex)
	s.lmax = lmax
	if len(alm) != sampling.JMax(lmax)+1 {
		return fmt.Errorf("bad alm length %d", len(alm))
	}
	return nil
}

func TestRunFeedsSynthesizer(t *testing.T) {
	cfg := writeInputs(t)
	require.NoError(t, cfg.Validate())
	synth := &fakeSynth{}
	p := New(cfg, diag.NewReporter(nil), regularize.New(0, 0), synth)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, synth.calls)
	assert.Equal(t, 40, synth.lmax)
}
