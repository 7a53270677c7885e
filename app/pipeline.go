// Package app orchestrates a full run: load fields and spectra, window,
// transform to the Gaussian domain, assemble and repair the per-multipole
// covariance matrices, factorize, and sample the correlated harmonic
// coefficients.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	fieldsio "github.com/mehdirezaie/flask/adapters/fields"
	spectraio "github.com/mehdirezaie/flask/adapters/spectra"
	"github.com/mehdirezaie/flask/config"
	"github.com/mehdirezaie/flask/domain/field"
	"github.com/mehdirezaie/flask/domain/spectra"
	"github.com/mehdirezaie/flask/internal/cosmology"
	"github.com/mehdirezaie/flask/internal/covariance"
	"github.com/mehdirezaie/flask/internal/diag"
	"github.com/mehdirezaie/flask/internal/lognormal"
	"github.com/mehdirezaie/flask/internal/sampling"
	"github.com/mehdirezaie/flask/internal/transform"
	"github.com/mehdirezaie/flask/internal/window"
	"github.com/mehdirezaie/flask/ports"
)

var (
	ErrRegFailed = errors.New("app: regularization ran out of iterations")
	ErrBadPair   = errors.New("app: correlation function leaves the lognormal domain")
)

// Pipeline runs one simulation. Construct with New; Run may only be called
// once per Pipeline.
type Pipeline struct {
	cfg    config.RunConfig
	rep    *diag.Reporter
	regul  ports.Regularizer
	synth  ports.Synthesizer // optional
	fields *field.Registry
}

func New(cfg config.RunConfig, rep *diag.Reporter, regul ports.Regularizer, synth ports.Synthesizer) *Pipeline {
	if rep == nil {
		rep = diag.NewReporter(nil)
	}
	return &Pipeline{cfg: cfg, rep: rep, regul: regul, synth: synth}
}

// Result is what a completed (or checkpoint-stopped) run hands back.
type Result struct {
	Registry *field.Registry
	Alms     [][]complex128 // nil when the run stopped at a checkpoint before sampling
	Warnings int64
	ExitedAt string // checkpoint name when the run stopped early, else ""
}

func (p *Pipeline) workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	return runtime.NumCPU()
}

func (p *Pipeline) exitHere(name string) bool { return p.cfg.ExitAt == name }

func (p *Pipeline) finish(exitedAt string, alms [][]complex128) *Result {
	return &Result{
		Registry: p.fields,
		Alms:     alms,
		Warnings: p.rep.Warnings(),
		ExitedAt: exitedAt,
	}
}

// Run executes the stages in order, honoring the configured exit checkpoint.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	log := p.rep.Logger()

	reg, err := fieldsio.Load(p.cfg.FieldsInfo, p.cfg.Lognormal())
	if err != nil {
		return nil, err
	}
	p.fields = reg
	log.Info("field registry loaded", zap.Int("fields", reg.NFields()), zap.String("dist", p.cfg.Dist))

	if p.cfg.FieldListOut != "" {
		if err := spectraio.WriteFieldList(p.cfg.FieldListOut, reg); err != nil {
			return nil, err
		}
	}
	if p.cfg.KappaOut != "" {
		if err := p.dumpKappaWeights(reg); err != nil {
			return nil, err
		}
	}
	if p.exitHere("FieldList") {
		return p.finish("FieldList", nil), nil
	}

	lmin, lmax := p.cfg.LRange[0], p.cfg.LRange[1]

	// A homogeneous run has no fluctuations at all: every coefficient is
	// zero and no spectra are needed.
	if p.cfg.Dist == config.DistHomogeneous {
		alms := make([][]complex128, reg.NFields())
		for f := range alms {
			alms[f] = make([]complex128, sampling.JMax(lmax)+1)
		}
		if err := p.synthesize(ctx, alms, lmax); err != nil {
			return nil, err
		}
		return p.finish("", alms), nil
	}

	store, err := p.loadSpectra(reg)
	if err != nil {
		return nil, err
	}

	common, err := store.MaxCommonL()
	if err != nil {
		return nil, err
	}
	if p.cfg.CropCl && common < lmax {
		p.rep.Warn("cropping lmax to the highest common input multipole",
			zap.Int("lmax", lmax), zap.Int("common", common))
		lmax = common
	}
	if lmax > common {
		return nil, fmt.Errorf("%w: lmax=%d but inputs stop at %d", spectra.ErrBeyondInput, lmax, common)
	}
	bw := lmax + 1

	if err := p.applyWindows(ctx, store); err != nil {
		return nil, err
	}

	pairs := store.Pairs()
	grids := make([][]float64, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for k, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			grid, err := store.DenseGrid(pair[0], pair[1], lmax, p.cfg.ExtrapDipole)
			if err != nil {
				return err
			}
			grids[k] = grid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if p.cfg.Lognormal() {
		p.logLognormalParams(reg, pairs, grids)
	}

	if p.cfg.SmoothClPrefix != "" {
		if err := spectraio.WritePairFiles(p.cfg.SmoothClPrefix, reg, gridMap(pairs, grids)); err != nil {
			return nil, err
		}
	}
	if p.exitHere("SmoothCl") {
		return p.finish("SmoothCl", nil), nil
	}

	gaussCl, exitedAt, err := p.toGaussianSpectra(ctx, reg, pairs, grids, bw)
	if err != nil {
		return nil, err
	}
	if exitedAt != "" {
		return p.finish(exitedAt, nil), nil
	}

	ps := covariance.NewPairSet(reg.NFields(), bw)
	for k, pair := range pairs {
		ps.Cl[pair] = gaussCl[k]
	}
	covs, err := covariance.Assemble(ps, p.cfg.AllowMissCl)
	if err != nil {
		return nil, err
	}
	vr := covariance.Validate(covs, lmin, lmax, p.cfg.BadCorrFrac, p.cfg.MinDiagFrac, p.rep)
	log.Info("covariance matrices assembled",
		zap.Int("lmin", lmin), zap.Int("lmax", lmax),
		zap.Int("negative_diag", vr.NegativeDiag), zap.Int("zero_diag", vr.ZeroDiag),
		zap.Int("bad_corr", vr.BadCorr), zap.Int("unresolved_corr", vr.UnresolvedCorr))

	if p.cfg.CovPrefix != "" {
		if err := spectraio.WriteMatrices(p.cfg.CovPrefix, covs, lmin, lmax); err != nil {
			return nil, err
		}
	}
	if p.exitHere("Cov") {
		return p.finish("Cov", nil), nil
	}

	if err := p.regularize(ctx, covs, lmin, lmax); err != nil {
		return nil, err
	}
	if p.cfg.RegCovPrefix != "" {
		if err := spectraio.WriteMatrices(p.cfg.RegCovPrefix, covs, lmin, lmax); err != nil {
			return nil, err
		}
	}
	if p.exitHere("RegCov") {
		return p.finish("RegCov", nil), nil
	}

	if p.cfg.RegClPrefix != "" {
		if err := p.dumpRegularizedSpectra(reg, pairs, covs, bw); err != nil {
			return nil, err
		}
	}
	if p.exitHere("RegCl") {
		return p.finish("RegCl", nil), nil
	}

	mixing, err := covariance.FactorizeAll(covs, lmin, lmax, p.rep)
	if err != nil {
		return nil, err
	}
	if p.cfg.CholOutPrefix != "" {
		if err := spectraio.WriteMatrices(p.cfg.CholOutPrefix, mixing, lmin, lmax); err != nil {
			return nil, err
		}
	}
	if p.exitHere("Cholesky") {
		return p.finish("Cholesky", nil), nil
	}

	streams := sampling.NewStreams(p.cfg.RndSeed, p.workers(), p.rep)
	sampler := sampling.NewSampler(lmin, lmax, streams)
	alms, err := sampler.Sample(ctx, mixing)
	if err != nil {
		return nil, err
	}
	p.logCoefficientSummary(alms, lmin, lmax)

	if p.cfg.AlmOut != "" {
		if err := spectraio.WriteAlm(p.cfg.AlmOut, reg, alms, lmin, lmax); err != nil {
			return nil, err
		}
	}
	if p.exitHere("Alm") {
		return p.finish("Alm", alms), nil
	}

	if err := p.synthesize(ctx, alms, lmax); err != nil {
		return nil, err
	}
	return p.finish("", alms), nil
}

// dumpKappaWeights tabulates the lensing kernel over the registered fields
// and writes it. Rows for fields without lensing sources come out zero; the
// dump is still written so sweep scripts see a consistent artifact.
func (p *Pipeline) dumpKappaWeights(reg *field.Registry) error {
	table, err := cosmology.NewDistanceTable(cosmology.Params{
		OmegaM: p.cfg.OmegaM, OmegaL: p.cfg.OmegaL, W: p.cfg.WDE,
	})
	if err != nil {
		return err
	}
	weights, err := table.WeightTable(reg)
	if err != nil {
		return err
	}
	return spectraio.WriteWeightTable(p.cfg.KappaOut, reg, weights)
}

func (p *Pipeline) loadSpectra(reg *field.Registry) (*spectra.Store, error) {
	if p.cfg.ClTable != "" {
		if strings.EqualFold(filepath.Ext(p.cfg.ClTable), ".xlsx") {
			return spectraio.LoadWideXLSX(p.cfg.ClTable, reg, p.rep)
		}
		return spectraio.LoadWideTable(p.cfg.ClTable, reg, p.rep)
	}
	return spectraio.LoadPairFiles(p.cfg.ClPrefix, reg)
}

// applyWindows runs the configured spectral windows over every stored pair in
// parallel. Transforms are in place on the store's sample slices.
func (p *Pipeline) applyWindows(ctx context.Context, store *spectra.Store) error {
	proc := window.Processor{
		ScaleFactor:     p.cfg.ScaleCls,
		BeamSigmaArcmin: p.cfg.WinFuncSigma,
		SuppressL:       p.cfg.SuppressL,
		SupIndex:        p.cfg.SupIndex,
	}
	if p.cfg.ApplyPixWin {
		ls, w, err := spectraio.LoadPixelWindow(p.cfg.PixWinFile)
		if err != nil {
			return err
		}
		pw, err := window.NewPixelWindow(ls, w)
		if err != nil {
			return err
		}
		proc.Pixel = pw
	}
	if !proc.Active() {
		return nil
	}

	var overshot sync.Once
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for _, pair := range store.Pairs() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := store.Get(pair[0], pair[1])
			if err != nil {
				return err
			}
			if proc.Apply(s.L, s.Cl) {
				overshot.Do(func() {
					p.rep.Warn("input multipoles beyond the pixel window table, clamped to its edge",
						zap.Float64("table_lmax", proc.Pixel.MaxL()))
				})
			}
			return nil
		})
	}
	return g.Wait()
}

// toGaussianSpectra takes the dense windowed spectra to the auxiliary
// Gaussian domain. For Gaussian runs the spectra pass through untouched. For
// lognormal runs each pair goes through forward transform, pointwise mapping
// and inverse transform, with private scratch per task. The Xi, GaussXi and
// GaussCl checkpoints live in this stage.
func (p *Pipeline) toGaussianSpectra(ctx context.Context, reg *field.Registry, pairs [][2]int, grids [][]float64, bw int) ([][]float64, string, error) {
	if !p.cfg.Lognormal() {
		if p.cfg.GaussClPrefix != "" {
			if err := spectraio.WritePairFiles(p.cfg.GaussClPrefix, reg, gridMap(pairs, grids)); err != nil {
				return nil, "", err
			}
		}
		for _, name := range []string{"Xi", "GaussXi"} {
			if p.exitHere(name) {
				p.rep.Warn("checkpoint is lognormal-only, stopping at GaussCl instead",
					zap.String("exit_at", name))
				return nil, "GaussCl", nil
			}
		}
		if p.exitHere("GaussCl") {
			return nil, "GaussCl", nil
		}
		return grids, "", nil
	}

	eng, err := transform.NewEngine(bw)
	if err != nil {
		return nil, "", err
	}

	xis := make([][]float64, len(pairs))
	gaussXis := make([][]float64, len(pairs))
	out := make([][]float64, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for k, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			i, j := pair[0], pair[1]
			xi := make([]float64, eng.NAngles())
			if err := eng.Forward(grids[k], xi); err != nil {
				return err
			}
			xis[k] = xi

			gxi := make([]float64, len(xi))
			err := lognormal.ToGaussian(gxi, xi,
				reg.Mean(i), reg.Shift(i), reg.Mean(j), reg.Shift(j))
			if err != nil {
				return fmt.Errorf("%w: pair %s: %v", ErrBadPair, reg.PairLabel(i, j), err)
			}
			gaussXis[k] = gxi

			gcl := make([]float64, bw)
			if err := eng.Inverse(gxi, gcl); err != nil {
				return err
			}
			out[k] = gcl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	if p.cfg.XiPrefix != "" {
		if err := spectraio.WriteXiFiles(p.cfg.XiPrefix, reg, eng.Angles(), gridMap(pairs, xis)); err != nil {
			return nil, "", err
		}
	}
	if p.exitHere("Xi") {
		return nil, "Xi", nil
	}
	if p.cfg.GaussXiPrefix != "" {
		if err := spectraio.WriteXiFiles(p.cfg.GaussXiPrefix, reg, eng.Angles(), gridMap(pairs, gaussXis)); err != nil {
			return nil, "", err
		}
	}
	if p.exitHere("GaussXi") {
		return nil, "GaussXi", nil
	}
	if p.cfg.GaussClPrefix != "" {
		if err := spectraio.WritePairFiles(p.cfg.GaussClPrefix, reg, gridMap(pairs, out)); err != nil {
			return nil, "", err
		}
	}
	if p.exitHere("GaussCl") {
		return nil, "GaussCl", nil
	}
	return out, "", nil
}

// regularize repairs every covariance matrix in the active range in parallel,
// tracking the multipole whose matrix changed the most. Iteration-budget
// exhaustion is warned per multipole and fatal in aggregate.
func (p *Pipeline) regularize(ctx context.Context, covs []*mat.SymDense, lmin, lmax int) error {
	var mu sync.Mutex
	exhausted := 0
	repaired := 0
	worstChange := 0.0
	worstL := -1

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for l := lmin; l <= lmax; l++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			before := mat.NewSymDense(covs[l].SymmetricDim(), nil)
			before.CopySym(covs[l])
			status, err := p.regul.Regularize(covs[l])
			if err != nil {
				return fmt.Errorf("app: regularizing l=%d: %w", l, err)
			}
			if status == ports.RegUnchanged {
				return nil
			}
			change := covariance.MaxFracDiff(covs[l], before)
			mu.Lock()
			defer mu.Unlock()
			repaired++
			if change > worstChange {
				worstChange, worstL = change, l
			}
			if status == ports.RegMaxIterations {
				exhausted++
				p.rep.Warn("regularization iteration budget exhausted", zap.Int("l", l))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if repaired > 0 {
		p.rep.Logger().Info("covariance matrices regularized",
			zap.Int("repaired", repaired),
			zap.Float64("max_frac_change", worstChange), zap.Int("worst_l", worstL))
	}
	if exhausted > 0 {
		return fmt.Errorf("%w for %d multipoles", ErrRegFailed, exhausted)
	}
	return nil
}

// dumpRegularizedSpectra reconstructs per-pair spectra from the repaired
// covariance matrices and, for lognormal runs, maps them back to the
// lognormal domain before writing.
func (p *Pipeline) dumpRegularizedSpectra(reg *field.Registry, pairs [][2]int, covs []*mat.SymDense, bw int) error {
	out := make(map[[2]int][]float64, len(pairs))
	var eng *transform.Engine
	if p.cfg.Lognormal() {
		var err error
		if eng, err = transform.NewEngine(bw); err != nil {
			return err
		}
	}
	for _, pair := range pairs {
		i, j := pair[0], pair[1]
		cl := make([]float64, bw)
		for l := 0; l < bw; l++ {
			cl[l] = covs[l].At(i, j)
		}
		if eng != nil {
			xi := make([]float64, eng.NAngles())
			if err := eng.Forward(cl, xi); err != nil {
				return err
			}
			if err := lognormal.ToLognormal(xi, xi,
				reg.Mean(i), reg.Shift(i), reg.Mean(j), reg.Shift(j)); err != nil {
				return err
			}
			if err := eng.Inverse(xi, cl); err != nil {
				return err
			}
		}
		out[pair] = cl
	}
	return spectraio.WritePairFiles(p.cfg.RegClPrefix, reg, out)
}

// logLognormalParams reports, for each field with a stored auto-spectrum, the
// parameters of the associated Gaussian implied by the windowed spectrum's
// total variance.
func (p *Pipeline) logLognormalParams(reg *field.Registry, pairs [][2]int, grids [][]float64) {
	for k, pair := range pairs {
		if pair[0] != pair[1] {
			continue
		}
		i := pair[0]
		variance := totalVariance(grids[k])
		p.rep.Logger().Info("lognormal field parameters",
			zap.String("name", reg.Label(i)),
			zap.Float64("variance", variance),
			zap.Float64("gauss_mu", lognormal.GaussianMu(reg.Mean(i), variance, reg.Shift(i))),
			zap.Float64("gauss_sigma", lognormal.GaussianSigma(reg.Mean(i), variance, reg.Shift(i))))
	}
}

// totalVariance is the zero-lag correlation xi(0) = sum_l (2l+1) C_l / (4 pi).
func totalVariance(cl []float64) float64 {
	var sum float64
	for l, v := range cl {
		sum += (2*float64(l) + 1) * v
	}
	return sum / (4 * math.Pi)
}

// logCoefficientSummary reports simple magnitude statistics of the sampled
// coefficients, one line per field.
func (p *Pipeline) logCoefficientSummary(alms [][]complex128, lmin, lmax int) {
	jmin, jmax := sampling.JMin(lmin), sampling.JMax(lmax)
	for f := range alms {
		mags := make([]float64, 0, jmax-jmin+1)
		for j := jmin; j <= jmax; j++ {
			c := alms[f][j]
			mags = append(mags, real(c)*real(c)+imag(c)*imag(c))
		}
		mean, err := stats.Mean(mags)
		if err != nil {
			continue
		}
		sd, _ := stats.StandardDeviation(mags)
		p.rep.Logger().Info("sampled coefficients",
			zap.Int("field", f), zap.String("name", p.fields.Label(f)),
			zap.Float64("mean_power", mean), zap.Float64("power_sd", sd))
	}
}

func (p *Pipeline) synthesize(ctx context.Context, alms [][]complex128, lmax int) error {
	if p.synth == nil {
		return nil
	}
	for f := range alms {
		if err := p.synth.Synthesize(ctx, f, lmax, alms[f]); err != nil {
			return fmt.Errorf("app: synthesizing field %d: %w", f, err)
		}
	}
	return nil
}

func gridMap(pairs [][2]int, grids [][]float64) map[[2]int][]float64 {
	out := make(map[[2]int][]float64, len(pairs))
	for k, pair := range pairs {
		out[pair] = grids[k]
	}
	return out
}
