package ports

import "context"

// Synthesizer consumes the per-field harmonic coefficients produced by the
// sampler and turns them into maps. Map synthesis is outside this engine;
// implementations may write the coefficients out or feed a pixelization
// library. alm is packed over 0 <= m <= l <= lmax at index l*(l+1)/2 + m.
type Synthesizer interface {
	Synthesize(ctx context.Context, fieldIndex, lmax int, alm []complex128) error
}
