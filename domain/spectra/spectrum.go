// Package spectra holds the per-field-pair angular power spectra a run starts
// from: sparse (multipole, value) samples plus the dense-grid interpolation
// the transform stage requires.
package spectra

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// HardMaxL guards against absurd multipoles in input tables.
const HardMaxL = 10000000

var (
	ErrNotSet       = errors.New("spectra: spectrum not set for pair")
	ErrUnsorted     = errors.New("spectra: multipoles must be strictly increasing")
	ErrNegativeL    = errors.New("spectra: negative multipole")
	ErrTooHighL     = errors.New("spectra: multipole beyond hard cap")
	ErrEmpty        = errors.New("spectra: spectrum has no samples")
	ErrBeyondInput  = errors.New("spectra: requested multipole beyond last input sample")
	ErrNoneSet      = errors.New("spectra: no spectra loaded")
)

// Spectrum is an ordered sequence of (multipole, value) samples for one field
// pair. Samples may be sparse and irregularly spaced.
type Spectrum struct {
	L  []float64
	Cl []float64
}

func (s Spectrum) validate() error {
	if len(s.L) == 0 {
		return ErrEmpty
	}
	if len(s.L) != len(s.Cl) {
		return fmt.Errorf("spectra: %d multipoles but %d values", len(s.L), len(s.Cl))
	}
	for k, l := range s.L {
		if l < 0 {
			return ErrNegativeL
		}
		if l > HardMaxL {
			return ErrTooHighL
		}
		if k > 0 && l <= s.L[k-1] {
			return ErrUnsorted
		}
	}
	return nil
}

// LastL returns the highest multipole the spectrum is sampled at.
func (s Spectrum) LastL() int { return int(s.L[len(s.L)-1]) }

// Store keeps the spectra of a run indexed by ordered field pair (i, j).
// Spectrum(i,j) and Spectrum(j,i) mean the same thing; only one needs to be
// present. Not safe for concurrent mutation; the pipeline loads it up front
// and then only reads.
type Store struct {
	nfields int
	specs   map[[2]int]*Spectrum
}

// NewStore creates an empty store over nfields fields.
func NewStore(nfields int) *Store {
	return &Store{nfields: nfields, specs: make(map[[2]int]*Spectrum)}
}

// NFields returns the number of fields the store indexes over.
func (st *Store) NFields() int { return st.nfields }

// Set stores the spectrum for pair (i, j) after validating it.
func (st *Store) Set(i, j int, s Spectrum) error {
	if err := s.validate(); err != nil {
		return fmt.Errorf("pair (%d,%d): %w", i, j, err)
	}
	st.specs[[2]int{i, j}] = &s
	return nil
}

// IsSet reports whether pair (i, j) has an explicitly stored spectrum.
func (st *Store) IsSet(i, j int) bool {
	_, ok := st.specs[[2]int{i, j}]
	return ok
}

// Get returns the spectrum stored for the ordered pair (i, j).
func (st *Store) Get(i, j int) (*Spectrum, error) {
	s, ok := st.specs[[2]int{i, j}]
	if !ok {
		return nil, fmt.Errorf("%w (%d,%d)", ErrNotSet, i, j)
	}
	return s, nil
}

// Pairs returns the ordered pairs with stored spectra, sorted for
// deterministic iteration.
func (st *Store) Pairs() [][2]int {
	out := make([][2]int, 0, len(st.specs))
	for k := range st.specs {
		out = append(out, k)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a][0] != out[b][0] {
			return out[a][0] < out[b][0]
		}
		return out[a][1] < out[b][1]
	})
	return out
}

// MaxCommonL returns the highest multipole described by every stored
// spectrum: the transform bandwidth cannot exceed it.
func (st *Store) MaxCommonL() (int, error) {
	if len(st.specs) == 0 {
		return 0, ErrNoneSet
	}
	last := HardMaxL
	for _, s := range st.specs {
		if l := s.LastL(); l < last {
			last = l
		}
	}
	return last, nil
}

// DenseGrid interpolates the pair's samples onto every integer multipole in
// [0, lastL]. Interpolation between samples is log-log where both neighboring
// values are positive (spectra are near power laws), linear otherwise. Below
// the first sample the values are zero unless extrapDipole is set, in which
// case the slope of the first two samples is extended down to l=1; l=0 is
// always zero. lastL beyond the last sample is an error: high-l extrapolation
// is out of scope.
func (st *Store) DenseGrid(i, j, lastL int, extrapDipole bool) ([]float64, error) {
	s, err := st.Get(i, j)
	if err != nil {
		return nil, err
	}
	if lastL > s.LastL() {
		return nil, fmt.Errorf("%w: want %d, have %d for pair (%d,%d)", ErrBeyondInput, lastL, s.LastL(), i, j)
	}

	out := make([]float64, lastL+1)
	firstL := s.L[0]
	k := 0 // index of the sample at or below l
	for l := 0; l <= lastL; l++ {
		fl := float64(l)
		switch {
		case fl < firstL:
			// Filled by the extrapolation pass below.
		case fl == s.L[k]:
			out[l] = s.Cl[k]
		default:
			for k+1 < len(s.L) && s.L[k+1] <= fl {
				k++
			}
			if s.L[k] == fl || k+1 >= len(s.L) {
				out[l] = s.Cl[k]
			} else {
				out[l] = interpolate(s.L[k], s.Cl[k], s.L[k+1], s.Cl[k+1], fl)
			}
		}
	}

	if extrapDipole && firstL >= 2 && len(s.L) >= 2 {
		for l := 1; float64(l) < firstL; l++ {
			out[l] = extrapolateDown(s.L[0], s.Cl[0], s.L[1], s.Cl[1], float64(l))
		}
	}
	out[0] = 0 // monopole carries no fluctuation power
	return out, nil
}

// interpolate picks log-log interpolation when it is well defined and falls
// back to linear.
func interpolate(x0, y0, x1, y1, x float64) float64 {
	if y0 > 0 && y1 > 0 && x0 > 0 {
		t := (math.Log(x) - math.Log(x0)) / (math.Log(x1) - math.Log(x0))
		return math.Exp(math.Log(y0) + t*(math.Log(y1)-math.Log(y0)))
	}
	t := (x - x0) / (x1 - x0)
	return y0 + t*(y1-y0)
}

func extrapolateDown(x0, y0, x1, y1, x float64) float64 {
	if y0 > 0 && y1 > 0 && x > 0 {
		slope := (math.Log(y1) - math.Log(y0)) / (math.Log(x1) - math.Log(x0))
		return math.Exp(math.Log(y0) + slope*(math.Log(x)-math.Log(x0)))
	}
	slope := (y1 - y0) / (x1 - x0)
	return y0 + slope*(x-x0)
}
