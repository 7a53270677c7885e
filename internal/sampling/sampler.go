package sampling

import (
	"context"
	"errors"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mehdirezaie/flask/ports"
)

var ErrNoFactors = errors.New("sampling: no mixing matrices in the multipole range")

// Packed triangular indexing over 0 <= m <= l.

// PackedIndex returns the storage index of coefficient (l, m).
func PackedIndex(l, m int) int { return l*(l+1)/2 + m }

// IndexToLM recovers (l, m) from a packed index.
func IndexToLM(j int) (l, m int) {
	l = int((math.Sqrt(float64(8*j+1)) - 1) / 2)
	return l, j - l*(l+1)/2
}

// JMin is the first packed index of multipole lmin, its m=0 coefficient.
func JMin(lmin int) int { return lmin * (lmin + 1) / 2 }

// JMax is the last packed index of multipole lmax, its m=lmax coefficient.
func JMax(lmax int) int { return lmax * (lmax + 3) / 2 }

// Sampler draws one packed coefficient triangle per field. Coefficients with
// m=0 are purely real with unit prior variance; m>0 coefficients get
// independent real and imaginary parts of variance 1/2 each, so that
// <|alm|^2> = 1 before mixing. The per-multipole lower-triangular factor then
// imprints the cross-field covariance.
type Sampler struct {
	lmin, lmax int
	streams    ports.StreamProvider
}

func NewSampler(lmin, lmax int, streams ports.StreamProvider) *Sampler {
	return &Sampler{lmin: lmin, lmax: lmax, streams: streams}
}

// Sample draws the coefficients for all fields at once. mixing is indexed by
// multipole; entries outside [lmin, lmax] are ignored and may be nil. The
// packed index range [JMin(lmin), JMax(lmax)] is split into one contiguous
// block per worker, each served by its own stream, so a fixed seed and worker
// count give a bit-identical realization. Coefficients below lmin stay zero.
func (s *Sampler) Sample(ctx context.Context, mixing []*mat.TriDense) ([][]complex128, error) {
	if s.lmax >= len(mixing) || mixing[s.lmin] == nil {
		return nil, ErrNoFactors
	}
	nf, _ := mixing[s.lmin].Dims()

	alms := make([][]complex128, nf)
	for f := range alms {
		alms[f] = make([]complex128, JMax(s.lmax)+1)
	}

	jmin, jmax := JMin(s.lmin), JMax(s.lmax)
	workers := s.streams.Workers()
	total := jmax - jmin + 1
	chunk := (total + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := jmin + w*chunk
		end := start + chunk
		if end > jmax+1 {
			end = jmax + 1
		}
		if start >= end {
			break
		}
		norm := distuv.Normal{Mu: 0, Sigma: 1, Src: s.streams.Stream(w + 1)}
		g.Go(func() error {
			return s.sampleRange(ctx, norm, mixing, alms, start, end)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return alms, nil
}

// sampleRange fills packed indices [start, end) for every field. Workers
// write disjoint index ranges of shared slices, so no locking is needed.
func (s *Sampler) sampleRange(ctx context.Context, norm distuv.Normal, mixing []*mat.TriDense, alms [][]complex128, start, end int) error {
	const invSqrt2 = 1 / math.Sqrt2
	nf := len(alms)
	re := make([]float64, nf)
	im := make([]float64, nf)

	for j := start; j < end; j++ {
		if j%4096 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		l, m := IndexToLM(j)
		L := mixing[l]
		if m == 0 {
			for f := 0; f < nf; f++ {
				re[f] = norm.Rand()
			}
			for f := 0; f < nf; f++ {
				var acc float64
				for g := 0; g <= f; g++ {
					acc += L.At(f, g) * re[g]
				}
				alms[f][j] = complex(acc, 0)
			}
			continue
		}
		for f := 0; f < nf; f++ {
			re[f] = invSqrt2 * norm.Rand()
			im[f] = invSqrt2 * norm.Rand()
		}
		for f := 0; f < nf; f++ {
			var ar, ai float64
			for g := 0; g <= f; g++ {
				ar += L.At(f, g) * re[g]
				ai += L.At(f, g) * im[g]
			}
			alms[f][j] = complex(ar, ai)
		}
	}
	return nil
}
