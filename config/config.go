// Package config loads the run configuration: a YAML file, overridable per
// key through FLASK_* environment variables, validated before the pipeline
// touches any data.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Marginal distribution of the simulated fields.
const (
	DistLognormal   = "LOGNORMAL"
	DistGaussian    = "GAUSSIAN"
	DistHomogeneous = "HOMOGENEOUS"
)

// Checkpoint names accepted by exit_at. The pipeline stops right after
// writing the named diagnostic.
var exitPoints = map[string]bool{
	"":          true,
	"FieldList": true,
	"SmoothCl":  true,
	"Xi":        true,
	"GaussXi":   true,
	"GaussCl":   true,
	"Cov":       true,
	"RegCov":    true,
	"RegCl":     true,
	"Cholesky":  true,
	"Alm":       true,
}

var (
	ErrBadDist   = errors.New("config: dist must be LOGNORMAL, GAUSSIAN or HOMOGENEOUS")
	ErrBadLRange = errors.New("config: lrange needs 1 <= lmin <= lmax")
	ErrBadExitAt = errors.New("config: unknown exit_at checkpoint")
	ErrNoFields  = errors.New("config: fields_info is required")
	ErrNoSpectra = errors.New("config: cl_prefix or cl_table is required")
	ErrPixWin    = errors.New("config: apply_pixwin needs nside > 0 and pixwin_file")
	ErrCosmology = errors.New("config: kappa_out needs omega_m > 0 and omega_l >= 0")
)

// RunConfig mirrors the historical parameter names of the simulation, one
// YAML key per knob.
type RunConfig struct {
	Dist   string `yaml:"dist"`
	LRange [2]int `yaml:"lrange"`

	FieldsInfo string `yaml:"fields_info"`
	ClPrefix   string `yaml:"cl_prefix"` // per-pair input files <prefix>f#z#f#z#.dat
	ClTable    string `yaml:"cl_table"`  // wide table (.dat or .xlsx), alternative to cl_prefix

	CropCl       bool    `yaml:"crop_cl"`       // restrict lmax to the highest common input multipole
	ExtrapDipole bool    `yaml:"extrap_dipole"` // extend spectra below their first sample down to l=1
	ScaleCls     float64 `yaml:"scale_cls"`
	WinFuncSigma float64 `yaml:"winfunc_sigma"` // Gaussian beam width in arcmin, < 0 disables
	ApplyPixWin  bool    `yaml:"apply_pixwin"`
	NSide        int     `yaml:"nside"`
	PixWinFile   string  `yaml:"pixwin_file"`
	SuppressL    float64 `yaml:"suppress_l"` // < 0 disables
	SupIndex     float64 `yaml:"sup_index"`  // < 0 disables

	AllowMissCl bool    `yaml:"allow_miss_cl"`
	BadCorrFrac float64 `yaml:"badcorr_frac"`
	MinDiagFrac float64 `yaml:"mindiag_frac"`

	RndSeed     uint64  `yaml:"rnd_seed"`
	Workers     int     `yaml:"workers"` // <= 0 means one worker per CPU
	RegMaxSteps int     `yaml:"reg_maxsteps"`
	RegMinEig   float64 `yaml:"reg_mineig"`

	OmegaM float64 `yaml:"omega_m"`
	OmegaL float64 `yaml:"omega_l"`
	WDE    float64 `yaml:"w_de"`

	ExitAt string `yaml:"exit_at"`

	// Diagnostic output prefixes/paths; empty disables the corresponding dump.
	FieldListOut   string `yaml:"fieldlist_out"`
	SmoothClPrefix string `yaml:"smoothcl_prefix"`
	XiPrefix       string `yaml:"xi_prefix"`
	GaussXiPrefix  string `yaml:"gxi_prefix"`
	GaussClPrefix  string `yaml:"gcl_prefix"`
	CovPrefix      string `yaml:"cov_prefix"`
	RegCovPrefix   string `yaml:"regcov_prefix"`
	RegClPrefix    string `yaml:"regcl_prefix"`
	CholOutPrefix  string `yaml:"chol_prefix"`
	AlmOut         string `yaml:"alm_out"`
	KappaOut       string `yaml:"kappa_out"` // density-to-convergence weight table
}

// Default returns the configuration used when the YAML file omits a key.
func Default() RunConfig {
	return RunConfig{
		Dist:         DistLognormal,
		LRange:       [2]int{1, 0},
		ScaleCls:     1,
		WinFuncSigma: -1,
		SuppressL:    -1,
		SupIndex:     -1,
		WDE:          -1,
		RndSeed:      1,
	}
}

// Load reads path, applies FLASK_* environment overrides and validates.
func Load(path string) (RunConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides the most commonly swept knobs from the environment.
// FLASK_LRANGE takes "lmin lmax".
func (c *RunConfig) applyEnv() error {
	if v, ok := os.LookupEnv("FLASK_DIST"); ok {
		c.Dist = v
	}
	if v, ok := os.LookupEnv("FLASK_LRANGE"); ok {
		if _, err := fmt.Sscanf(v, "%d %d", &c.LRange[0], &c.LRange[1]); err != nil {
			return fmt.Errorf("config: FLASK_LRANGE %q: %w", v, err)
		}
	}
	if v, ok := os.LookupEnv("FLASK_RND_SEED"); ok {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: FLASK_RND_SEED %q: %w", v, err)
		}
		c.RndSeed = seed
	}
	if v, ok := os.LookupEnv("FLASK_WORKERS"); ok {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: FLASK_WORKERS %q: %w", v, err)
		}
		c.Workers = workers
	}
	if v, ok := os.LookupEnv("FLASK_EXIT_AT"); ok {
		c.ExitAt = v
	}
	if v, ok := os.LookupEnv("FLASK_FIELDS_INFO"); ok {
		c.FieldsInfo = v
	}
	if v, ok := os.LookupEnv("FLASK_CL_PREFIX"); ok {
		c.ClPrefix = v
	}
	return nil
}

// Validate rejects configurations the pipeline could not run. Called by Load;
// exported for callers that build a RunConfig in code.
func (c *RunConfig) Validate() error {
	c.Dist = strings.ToUpper(strings.TrimSpace(c.Dist))
	switch c.Dist {
	case DistLognormal, DistGaussian, DistHomogeneous:
	default:
		return fmt.Errorf("%w, got %q", ErrBadDist, c.Dist)
	}
	if c.LRange[0] < 1 || c.LRange[0] > c.LRange[1] {
		return fmt.Errorf("%w, got [%d, %d]", ErrBadLRange, c.LRange[0], c.LRange[1])
	}
	if !exitPoints[c.ExitAt] {
		return fmt.Errorf("%w: %q", ErrBadExitAt, c.ExitAt)
	}
	if c.FieldsInfo == "" {
		return ErrNoFields
	}
	if c.Dist != DistHomogeneous && c.ClPrefix == "" && c.ClTable == "" {
		return ErrNoSpectra
	}
	if c.ApplyPixWin && (c.NSide <= 0 || c.PixWinFile == "") {
		return ErrPixWin
	}
	if c.ScaleCls <= 0 {
		return fmt.Errorf("config: scale_cls must be positive, got %g", c.ScaleCls)
	}
	if c.KappaOut != "" && (c.OmegaM <= 0 || c.OmegaL < 0) {
		return fmt.Errorf("%w, got omega_m=%g omega_l=%g", ErrCosmology, c.OmegaM, c.OmegaL)
	}
	return nil
}

// Lognormal reports whether the run maps spectra through the lognormal
// transform.
func (c *RunConfig) Lognormal() bool { return c.Dist == DistLognormal }
